// Package fakeapi is an in-memory stand-in for the StuDex marketplace API.
// It backs the client tests and the `studex dev-server` command.
package fakeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/studex/studex/internal/remote"
)

const maxSignupBodySize = 12 << 20 // 12MB

// ErrEmailTaken is returned by AddUser for a duplicate email.
var ErrEmailTaken = errors.New("email already registered")

// Options configures a Server.
type Options struct {
	// Secret signs issued tokens. A random secret is used when empty.
	Secret []byte
	// Latency delays every response.
	Latency time.Duration
	// BcryptCost defaults to bcrypt.MinCost so tests stay fast.
	BcryptCost int
	// Now overrides the clock used for token issue and expiry.
	Now    func() time.Time
	Logger *slog.Logger
	// Seed loads the demo services and jobs.
	Seed bool
}

type account struct {
	user         remote.User
	passwordHash []byte
}

type fault struct {
	status    int
	remaining int
}

// Server holds users, listings and fault injection state.
type Server struct {
	secret  []byte
	latency time.Duration
	cost    int
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	accounts map[string]*account // by lower-cased email
	byID     map[string]*account
	services []remote.Service
	jobs     []remote.Job
	faults   map[string]*fault
	hits     map[string]int
}

// New creates a Server.
func New(opts Options) *Server {
	s := &Server{
		secret:   opts.Secret,
		latency:  opts.Latency,
		cost:     opts.BcryptCost,
		now:      opts.Now,
		logger:   opts.Logger,
		accounts: make(map[string]*account),
		byID:     make(map[string]*account),
		faults:   make(map[string]*fault),
		hits:     make(map[string]int),
	}
	if len(s.secret) == 0 {
		s.secret = []byte(uuid.NewString())
	}
	if s.cost == 0 {
		s.cost = bcrypt.MinCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts.Seed {
		s.services = demoServices()
		s.jobs = demoJobs()
	}
	return s
}

// Handler returns the HTTP routes of the marketplace API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.track)

	r.Get("/health", handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/signup", s.handleSignup)
		r.Get("/services", s.handleServices)
		r.Group(func(r chi.Router) {
			r.Use(s.bearerAuth)
			r.Get("/auth/profile", s.handleProfile)
			r.Get("/jobs", s.handleJobs)
			r.Post("/services", s.handleCreateService)
			r.Post("/jobs", s.handlePostJob)
		})
	})
	return r
}

// AddUser registers an account directly, bypassing the signup endpoint.
func (s *Server) AddUser(u remote.User, password string) (remote.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return remote.User{}, fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.accounts[key]; ok {
		return remote.User{}, ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	a := &account{user: u, passwordHash: hash}
	s.accounts[key] = a
	s.byID[u.ID] = a
	return u, nil
}

// RemoveUser deletes an account so its tokens stop validating.
func (s *Server) RemoveUser(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if a, ok := s.accounts[key]; ok {
		delete(s.byID, a.user.ID)
		delete(s.accounts, key)
	}
}

// Token issues a token for an existing account.
func (s *Server) Token(email string) (string, error) {
	s.mu.Lock()
	a, ok := s.accounts[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no account for %q", email)
	}
	return s.issueToken(a.user.ID, a.user.Email)
}

// AddService appends a listing.
func (s *Server) AddService(svc remote.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	s.services = append(s.services, svc)
}

// FailNext makes the next n requests to path answer with status.
func (s *Server) FailNext(path string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[path] = &fault{status: status, remaining: n}
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		f := s.faults[r.URL.Path]
		var status int
		if f != nil && f.remaining > 0 {
			f.remaining--
			status = f.status
		}
		s.mu.Unlock()

		if s.latency > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.latency):
			}
		}
		s.logger.Debug("fake api request", "method", r.Method, "path", r.URL.Path, "request_id", r.Header.Get("X-Request-ID"))

		if status != 0 {
			writeFail(w, status, http.StatusText(status), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			writeFail(w, http.StatusUnauthorized, "Access denied. No token provided.", nil)
			return
		}
		userID, err := s.parseToken(auth[len(prefix):])
		if err != nil {
			writeFail(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}
		s.mu.Lock()
		a, ok := s.byID[userID]
		var u remote.User
		if ok {
			u = a.user
		}
		s.mu.Unlock()
		if !ok {
			writeFail(w, http.StatusUnauthorized, "User no longer exists", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), nil)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Email and password are required", nil)
		return
	}

	s.mu.Lock()
	a, ok := s.accounts[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(a.passwordHash, []byte(req.Password)) != nil {
		writeFail(w, http.StatusUnauthorized, "Invalid email or password", nil)
		return
	}

	token, err := s.issueToken(a.user.ID, a.user.Email)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeOK(w, http.StatusOK, "Login successful", remote.AuthResult{Token: token, User: a.user})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSignupBodySize)
	if err := r.ParseMultipartForm(maxSignupBodySize); err != nil {
		writeFail(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err), nil)
		return
	}

	required := []string{"firstName", "lastName", "email", "password", "username", "matric", "schoolName"}
	fieldErrs := make(map[string]string)
	for _, f := range required {
		if strings.TrimSpace(r.FormValue(f)) == "" {
			fieldErrs[f] = f + " is required"
		}
	}
	if email := r.FormValue("email"); email != "" && !strings.Contains(email, "@") {
		fieldErrs["email"] = "Please enter a valid email address"
	}
	if pw := r.FormValue("password"); pw != "" && len(pw) < 6 {
		fieldErrs["password"] = "Password must be at least 6 characters"
	}
	if len(fieldErrs) > 0 {
		writeFail(w, http.StatusBadRequest, "Validation failed", fieldErrs)
		return
	}

	var interests []string
	if raw := r.FormValue("interests"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &interests); err != nil {
			writeFail(w, http.StatusBadRequest, "Validation failed", map[string]string{"interests": "interests must be a JSON array"})
			return
		}
	}

	u := remote.User{
		FirstName:     r.FormValue("firstName"),
		LastName:      r.FormValue("lastName"),
		Email:         r.FormValue("email"),
		Username:      r.FormValue("username"),
		Matric:        r.FormValue("matric"),
		SchoolName:    r.FormValue("schoolName"),
		Level:         r.FormValue("level"),
		SkillCategory: r.FormValue("skillCategory"),
		Bio:           r.FormValue("bio"),
		Interests:     interests,
	}
	if file, hdr, err := r.FormFile("profileImage"); err == nil {
		n, _ := io.Copy(io.Discard, file)
		file.Close()
		u.ProfileImage = fmt.Sprintf("/uploads/%s/%s?bytes=%d", uuid.NewString(), hdr.Filename, n)
	}

	u, err := s.AddUser(u, r.FormValue("password"))
	if errors.Is(err, ErrEmailTaken) {
		writeFail(w, http.StatusConflict, "Registration failed", map[string]string{"email": "Email already registered"})
		return
	}
	if err != nil {
		writeFail(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	token, err := s.issueToken(u.ID, u.Email)
	if err != nil {
		writeFail(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeOK(w, http.StatusCreated, "Account created", remote.AuthResult{Token: token, User: u})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, _ := r.Context().Value(ctxKey{}).(remote.User)
	writeOK(w, http.StatusOK, "Profile retrieved", u)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := pagination(q.Get("page"), q.Get("limit"), 12)
	category := q.Get("category")
	search := strings.ToLower(strings.TrimSpace(q.Get("search")))

	s.mu.Lock()
	var matched []remote.Service
	for _, svc := range s.services {
		if category != "" && !strings.EqualFold(svc.Category, category) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(svc.Title+" "+svc.Description+" "+svc.Category), search) {
			continue
		}
		matched = append(matched, svc)
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Rating > matched[j].Rating })
	writeOK(w, http.StatusOK, "Services retrieved", remote.ServicePage{
		Services: paginate(matched, page, limit),
		Total:    len(matched),
		Page:     page,
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := pagination(q.Get("page"), q.Get("limit"), 10)
	category := q.Get("category")

	s.mu.Lock()
	var matched []remote.Job
	for _, j := range s.jobs {
		if category != "" && !strings.EqualFold(j.Category, category) {
			continue
		}
		matched = append(matched, j)
	}
	s.mu.Unlock()

	writeOK(w, http.StatusOK, "Jobs retrieved", remote.JobPage{
		Jobs:  paginate(matched, page, limit),
		Total: len(matched),
		Page:  page,
	})
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	u, _ := r.Context().Value(ctxKey{}).(remote.User)
	r.Body = http.MaxBytesReader(w, r.Body, maxSignupBodySize)
	if err := r.ParseMultipartForm(maxSignupBodySize); err != nil {
		writeFail(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err), nil)
		return
	}

	fieldErrs := make(map[string]string)
	for _, f := range []string{"title", "description", "category"} {
		if strings.TrimSpace(r.FormValue(f)) == "" {
			fieldErrs[f] = f + " is required"
		}
	}
	price, err := strconv.ParseFloat(r.FormValue("price"), 64)
	if err != nil || price <= 0 {
		fieldErrs["price"] = "Price must be a positive number"
	}
	priceType := r.FormValue("priceType")
	if priceType == "" {
		priceType = remote.PriceFixed
	}
	if priceType != remote.PriceFixed && priceType != remote.PriceNegotiable {
		fieldErrs["priceType"] = "Price type must be FIXED or NEGOTIABLE"
	}
	var skills []string
	if raw := r.FormValue("skills"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &skills); err != nil {
			fieldErrs["skills"] = "skills must be a JSON array"
		}
	}
	if len(fieldErrs) > 0 {
		writeFail(w, http.StatusBadRequest, "Validation failed", fieldErrs)
		return
	}

	svc := remote.Service{
		ID:             "svc-" + uuid.NewString()[:8],
		Title:          r.FormValue("title"),
		Description:    r.FormValue("description"),
		Category:       r.FormValue("category"),
		Price:          price,
		PriceType:      priceType,
		FreelancerName: u.DisplayName(),
		Skills:         skills,
	}
	if r.MultipartForm != nil {
		for _, hdr := range r.MultipartForm.File["portfolioImages"] {
			svc.PortfolioImages = append(svc.PortfolioImages, fmt.Sprintf("/uploads/%s/%s?bytes=%d", uuid.NewString(), hdr.Filename, hdr.Size))
		}
	}
	s.AddService(svc)
	writeOK(w, http.StatusCreated, "Service created", svc)
}

func (s *Server) handlePostJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	var job remote.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeFail(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), nil)
		return
	}

	fieldErrs := make(map[string]string)
	if strings.TrimSpace(job.Title) == "" {
		fieldErrs["title"] = "title is required"
	}
	if strings.TrimSpace(job.Description) == "" {
		fieldErrs["description"] = "description is required"
	}
	if strings.TrimSpace(job.Category) == "" {
		fieldErrs["category"] = "category is required"
	}
	if job.Budget <= 0 {
		fieldErrs["budget"] = "Budget must be a positive amount"
	}
	if job.Deadline != "" {
		if _, err := time.Parse(time.DateOnly, job.Deadline); err != nil {
			fieldErrs["deadline"] = "Deadline must be a date (YYYY-MM-DD)"
		}
	}
	if len(fieldErrs) > 0 {
		writeFail(w, http.StatusBadRequest, "Validation failed", fieldErrs)
		return
	}

	job.ID = "job-" + uuid.NewString()[:8]
	s.mu.Lock()
	s.jobs = append([]remote.Job{job}, s.jobs...)
	s.mu.Unlock()
	writeOK(w, http.StatusCreated, "Job posted", job)
}

func pagination(rawPage, rawLimit string, defLimit int) (int, int) {
	page, err := strconv.Atoi(rawPage)
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(rawLimit)
	if err != nil || limit < 1 {
		limit = defLimit
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func paginate[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := min(start+limit, len(items))
	return items[start:end]
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func writeFail(w http.ResponseWriter, status int, message string, fieldErrs map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{
		"success": false,
		"message": message,
	}
	if len(fieldErrs) > 0 {
		body["errors"] = fieldErrs
	}
	json.NewEncoder(w).Encode(body)
}
