package remote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studex/studex/internal/remote"
	"github.com/studex/studex/internal/remote/fakeapi"
)

func setup(t *testing.T) (*fakeapi.Server, *remote.Client, *string) {
	t.Helper()
	api := fakeapi.New(fakeapi.Options{Seed: true})
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)

	token := new(string)
	c, err := remote.New(ts.URL,
		remote.WithBackoff(time.Millisecond),
		remote.WithTokenSource(func() string { return *token }),
	)
	require.NoError(t, err)
	return api, c, token
}

func TestSignupLoginValidate(t *testing.T) {
	_, c, _ := setup(t)
	ctx := context.Background()

	signed, err := c.Signup(ctx, remote.SignupForm{
		FirstName: "Ada", LastName: "Okafor", Email: "ada@uni.edu", Password: "secret1",
		SchoolName: "Computer Science", Level: "300", Matric: "CSC/19/001", Username: "ada",
		ProfileImage: &remote.Attachment{Name: "me.png", ContentType: "image/png", Data: []byte("png")},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Token)
	assert.Equal(t, remote.SkillClient, signed.User.SkillCategory)
	assert.Contains(t, signed.User.ProfileImage, "me.png")

	_, err = c.Signup(ctx, remote.SignupForm{
		FirstName: "Ada", LastName: "Okafor", Email: "ada@uni.edu", Password: "secret1",
		SchoolName: "CS", Level: "300", Matric: "x", Username: "ada2",
	})
	require.ErrorIs(t, err, remote.ErrValidation)

	logged, err := c.Login(ctx, "ada@uni.edu", "secret1")
	require.NoError(t, err)
	assert.Equal(t, signed.User.ID, logged.User.ID)

	_, err = c.Login(ctx, "ada@uni.edu", "wrong-password")
	assert.ErrorIs(t, err, remote.ErrInvalidCredentials)

	u, err := c.Validate(ctx, logged.Token)
	require.NoError(t, err)
	assert.Equal(t, "ada@uni.edu", u.Email)

	_, err = c.Validate(ctx, "garbage")
	assert.ErrorIs(t, err, remote.ErrInvalidCredentials)
}

func TestJobsRequireToken(t *testing.T) {
	api, c, token := setup(t)
	ctx := context.Background()

	_, err := c.ListJobs(ctx, remote.JobParams{})
	require.ErrorIs(t, err, remote.ErrInvalidCredentials)

	_, err = api.AddUser(remote.User{Email: "ada@uni.edu"}, "secret1")
	require.NoError(t, err)
	*token, err = api.Token("ada@uni.edu")
	require.NoError(t, err)

	page, err := c.ListJobs(ctx, remote.JobParams{Category: "Tutoring"})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, "job-3", page.Jobs[0].ID)
}

func TestSearchRetriesThroughFaults(t *testing.T) {
	api, c, _ := setup(t)
	api.FailNext("/api/services", http.StatusServiceUnavailable, 2)

	page, err := c.SearchServices(context.Background(), remote.SearchParams{Category: "Web Development", Limit: 6})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 3, api.Hits("/api/services"))
}

func TestCreateServiceAndPostJob(t *testing.T) {
	api, c, token := setup(t)
	ctx := context.Background()

	_, err := c.CreateService(ctx, remote.ServiceForm{Title: "Resume review", Description: "d", Category: "Content Writing", Price: 10})
	require.ErrorIs(t, err, remote.ErrInvalidCredentials)

	_, err = api.AddUser(remote.User{Email: "ada@uni.edu", FirstName: "Ada", LastName: "Okafor"}, "secret1")
	require.NoError(t, err)
	*token, err = api.Token("ada@uni.edu")
	require.NoError(t, err)

	svc, err := c.CreateService(ctx, remote.ServiceForm{
		Title: "Resume review", Description: "Two rounds of edits", Category: "Content Writing",
		Price: 4000, PriceType: remote.PriceNegotiable,
		PortfolioImages: []remote.Attachment{{Name: "before.png", ContentType: "image/png", Data: []byte("png")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada Okafor", svc.FreelancerName)
	assert.Equal(t, remote.PriceNegotiable, svc.PriceType)
	require.Len(t, svc.PortfolioImages, 1)
	assert.Contains(t, svc.PortfolioImages[0], "before.png")

	page, err := c.SearchServices(ctx, remote.SearchParams{Query: "resume"})
	require.NoError(t, err)
	require.Len(t, page.Services, 1)
	assert.Equal(t, svc.ID, page.Services[0].ID)

	_, err = c.PostJob(ctx, remote.JobForm{Title: "Poster", Description: "A2", Category: "Graphic Design", Budget: 0})
	require.ErrorIs(t, err, remote.ErrValidation)

	job, err := c.PostJob(ctx, remote.JobForm{Title: "Poster", Description: "A2", Category: "Graphic Design", Budget: 3000, Deadline: "2026-12-01"})
	require.NoError(t, err)
	jobs, err := c.ListJobs(ctx, remote.JobParams{Category: "Graphic Design"})
	require.NoError(t, err)
	require.NotEmpty(t, jobs.Jobs)
	assert.Equal(t, job.ID, jobs.Jobs[0].ID)
}
