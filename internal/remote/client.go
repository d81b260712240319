// Package remote is the client for the StuDex marketplace HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultTimeout = 15 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxBodyBytes   = 4 << 20
)

// endpoint identifies how a non-2xx response should be classified.
type endpoint int

const (
	epData endpoint = iota
	epValidate
	epLogin
	epSignup
	epCreate
)

// Client talks to the marketplace API using bearer-token JSON over HTTP.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	token          func() string
	logger         *slog.Logger
	initialBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its cookie jar is kept
// if already set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithTokenSource supplies the bearer token for data endpoints.
func WithTokenSource(fn func() string) Option {
	return func(c *Client) { c.token = fn }
}

// WithLogger sets the logger used for retry and request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackoff sets the initial retry backoff (tests use a tiny value).
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.initialBackoff = d }
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", baseURL)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: defaultTimeout, Jar: jar},
		token:          func() string { return "" },
		logger:         slog.Default(),
		initialBackoff: initialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		c.httpClient.Jar = jar
	}
	return c, nil
}

// BaseURL returns the API root the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Validate fetches the profile for token. A rejected token yields
// KindInvalidCredentials.
func (c *Client) Validate(ctx context.Context, token string) (User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/auth/profile", nil, "")
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var u User
	if err := c.doJSON(req, epValidate, true, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Login exchanges email and password for a token and user.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return AuthResult{}, fmt.Errorf("marshaling login: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/auth/login", bytes.NewReader(body), "application/json")
	if err != nil {
		return AuthResult{}, err
	}

	var res AuthResult
	if err := c.doJSON(req, epLogin, false, &res); err != nil {
		return AuthResult{}, err
	}
	if res.Token == "" {
		return AuthResult{}, &Error{Kind: KindServer, Message: "login response missing token", Status: http.StatusOK}
	}
	return res, nil
}

// Signup registers a new account. Attachments are streamed as multipart
// file parts.
func (c *Client) Signup(ctx context.Context, form SignupForm) (AuthResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeSignupForm(mw, form); err != nil {
		return AuthResult{}, fmt.Errorf("encoding signup form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return AuthResult{}, fmt.Errorf("encoding signup form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/auth/signup", &buf, mw.FormDataContentType())
	if err != nil {
		return AuthResult{}, err
	}

	var res AuthResult
	if err := c.doJSON(req, epSignup, false, &res); err != nil {
		return AuthResult{}, err
	}
	if res.Token == "" {
		return AuthResult{}, &Error{Kind: KindServer, Message: "signup response missing token", Status: http.StatusOK}
	}
	return res, nil
}

func writeSignupForm(mw *multipart.Writer, f SignupForm) error {
	category := f.SkillCategory
	if category == "" {
		category = SkillClient
	}
	interests, err := json.Marshal(f.Interests)
	if err != nil {
		return err
	}
	if f.Interests == nil {
		interests = []byte("[]")
	}
	fields := [][2]string{
		{"matric", f.Matric},
		{"email", f.Email},
		{"password", f.Password},
		{"firstName", f.FirstName},
		{"lastName", f.LastName},
		{"username", f.Username},
		{"schoolName", f.SchoolName},
		{"level", f.Level},
		{"skillCategory", category},
		{"interests", string(interests)},
	}
	if f.Bio != "" {
		fields = append(fields, [2]string{"bio", f.Bio})
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	if f.ProfileImage != nil {
		if err := writeFilePart(mw, "profileImage", *f.ProfileImage); err != nil {
			return err
		}
	}
	for _, a := range f.Portfolio {
		if err := writeFilePart(mw, "portfolio", a); err != nil {
			return err
		}
	}
	return nil
}

func writeFilePart(mw *multipart.Writer, field string, a Attachment) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, a.Name))
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = w.Write(a.Data)
	return err
}

// SearchServices lists services matching p. Category "All" is not sent.
func (c *Client) SearchServices(ctx context.Context, p SearchParams) (ServicePage, error) {
	q := pageQuery(p.Page, p.Limit, 12)
	if p.Category != "" && p.Category != AllCategories {
		q.Set("category", p.Category)
	}
	if s := strings.TrimSpace(p.Query); s != "" {
		q.Set("search", s)
	}

	var page ServicePage
	if err := c.getJSON(ctx, "/api/services?"+q.Encode(), &page); err != nil {
		return ServicePage{}, err
	}
	if page.Services == nil {
		page.Services = []Service{}
	}
	return page, nil
}

// ListJobs lists posted jobs, optionally filtered by category.
func (c *Client) ListJobs(ctx context.Context, p JobParams) (JobPage, error) {
	q := pageQuery(p.Page, p.Limit, 10)
	if p.Category != "" && p.Category != AllCategories {
		q.Set("category", p.Category)
	}

	var page JobPage
	if err := c.getJSON(ctx, "/api/jobs?"+q.Encode(), &page); err != nil {
		return JobPage{}, err
	}
	if page.Jobs == nil {
		page.Jobs = []Job{}
	}
	return page, nil
}

// CreateService publishes a service listing as the signed-in user.
func (c *Client) CreateService(ctx context.Context, form ServiceForm) (Service, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeServiceForm(mw, form); err != nil {
		return Service{}, fmt.Errorf("encoding service form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Service{}, fmt.Errorf("encoding service form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/services", &buf, mw.FormDataContentType())
	if err != nil {
		return Service{}, err
	}
	c.authorize(req)

	var svc Service
	if err := c.doJSON(req, epCreate, false, &svc); err != nil {
		return Service{}, err
	}
	return svc, nil
}

func writeServiceForm(mw *multipart.Writer, f ServiceForm) error {
	priceType := f.PriceType
	if priceType == "" {
		priceType = PriceFixed
	}
	skills := f.Skills
	if skills == nil {
		skills = []string{}
	}
	rawSkills, err := json.Marshal(skills)
	if err != nil {
		return err
	}
	fields := [][2]string{
		{"title", f.Title},
		{"description", f.Description},
		{"category", f.Category},
		{"price", strconv.FormatFloat(f.Price, 'f', -1, 64)},
		{"priceType", priceType},
		{"skills", string(rawSkills)},
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	for _, a := range f.PortfolioImages {
		if err := writeFilePart(mw, "portfolioImages", a); err != nil {
			return err
		}
	}
	return nil
}

// PostJob publishes a job as the signed-in user.
func (c *Client) PostJob(ctx context.Context, form JobForm) (Job, error) {
	if form.Skills == nil {
		form.Skills = []string{}
	}
	body, err := json.Marshal(form)
	if err != nil {
		return Job{}, fmt.Errorf("marshaling job: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/jobs", bytes.NewReader(body), "application/json")
	if err != nil {
		return Job{}, err
	}
	c.authorize(req)

	var job Job
	if err := c.doJSON(req, epCreate, false, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func pageQuery(page, limit, defLimit int) url.Values {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defLimit
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	return q
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	c.authorize(req)
	return c.doJSON(req, epData, true, v)
}

func (c *Client) authorize(req *http.Request) {
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// retryableError is returned on HTTP 429 and 503.
type retryableError struct {
	status int
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("retryable response (HTTP %d)", e.status)
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// doJSON sends req and decodes the envelope's data into v. Idempotent
// requests are retried on 429/503 with exponential backoff.
func (c *Client) doJSON(req *http.Request, ep endpoint, idempotent bool, v any) error {
	attempts := 1
	if idempotent {
		attempts = maxRetries
	}

	var lastErr error
	for attempt := range attempts {
		err := c.doOnce(req, ep, v)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		if attempt < attempts-1 {
			backoff := time.Duration(float64(c.initialBackoff) * math.Pow(2, float64(attempt)))
			c.logger.Debug("retrying marketplace request", "path", req.URL.Path, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-req.Context().Done():
				return &Error{Kind: KindNetwork, Err: req.Context().Err()}
			case <-time.After(backoff):
			}
		}
	}

	var re *retryableError
	errors.As(lastErr, &re)
	return &Error{
		Kind:    KindServer,
		Message: fmt.Sprintf("server busy after %d attempts", attempts),
		Status:  re.status,
		Err:     lastErr,
	}
}

func (c *Client) doOnce(req *http.Request, ep endpoint, v any) error {
	// Each attempt needs a fresh request id.
	r := req.Clone(req.Context())
	r.Header.Set("X-Request-ID", uuid.NewString())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return fmt.Errorf("rewinding request body: %w", err)
		}
		r.Body = body
	}

	resp, err := c.httpClient.Do(r)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: "marketplace not reachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		io.Copy(io.Discard, resp.Body)
		return &retryableError{status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Kind: KindNetwork, Message: "reading response", Status: resp.StatusCode, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp.StatusCode, ep, env)
	}
	if decodeErr != nil {
		return &Error{Kind: KindServer, Message: "malformed response body", Status: resp.StatusCode, Err: decodeErr}
	}
	if !env.Success {
		return classify(resp.StatusCode, ep, env)
	}
	if v == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return &Error{Kind: KindServer, Message: "malformed response data", Status: resp.StatusCode, Err: err}
	}
	return nil
}

// classify maps a rejected response to an *Error.
func classify(status int, ep endpoint, env envelope) *Error {
	e := &Error{Status: status, Message: env.Message}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindInvalidCredentials
	case len(env.Errors) > 0:
		e.Kind = KindValidation
		e.Fields = env.Errors
	case status >= 500:
		e.Kind = KindServer
	case ep == epLogin || ep == epValidate:
		if status >= 400 || !env.Success {
			e.Kind = KindInvalidCredentials
		}
	case (ep == epSignup || ep == epCreate) && status < 500:
		e.Kind = KindValidation
	default:
		e.Kind = KindServer
	}
	if e.Kind == 0 {
		e.Kind = KindServer
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
