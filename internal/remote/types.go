package remote

import "encoding/json"

// envelope is the response wrapper used by every marketplace endpoint.
type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// User is the account record returned by the auth endpoints.
type User struct {
	ID            string   `json:"id"`
	FirstName     string   `json:"firstName"`
	LastName      string   `json:"lastName"`
	Email         string   `json:"email"`
	Username      string   `json:"username"`
	Matric        string   `json:"matric,omitempty"`
	SchoolName    string   `json:"schoolName,omitempty"`
	Level         string   `json:"level,omitempty"`
	SkillCategory string   `json:"skillCategory,omitempty"`
	Bio           string   `json:"bio,omitempty"`
	Interests     []string `json:"interests,omitempty"`
	ProfileImage  string   `json:"profileImage,omitempty"`
}

// DisplayName returns "First Last", falling back to the username.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// AuthResult is the payload of a successful login or signup.
type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Skill categories accepted by signup.
const (
	SkillClient     = "Client"
	SkillFreelancer = "Freelancer"
	SkillHybrid     = "Hybrid"
)

// SignupForm carries the signup fields. Attachments are sent as-is.
type SignupForm struct {
	FirstName     string   `validate:"required"`
	LastName      string   `validate:"required"`
	Email         string   `validate:"required,email"`
	Password      string   `validate:"required,min=6"`
	SchoolName    string   `validate:"required"`
	Level         string   `validate:"required"`
	Matric        string   `validate:"required"`
	Username      string   `validate:"required"`
	SkillCategory string   `validate:"omitempty,oneof=Client Freelancer Hybrid"`
	Bio           string
	Interests     []string `validate:"-"`

	ProfileImage *Attachment  `validate:"-"`
	Portfolio    []Attachment `validate:"-"`
}

// Service is a marketplace listing offered by a student.
type Service struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Category         string   `json:"category"`
	Price            float64  `json:"price"`
	PriceType        string   `json:"priceType,omitempty"`
	Rating           float64  `json:"rating,omitempty"`
	FreelancerName   string   `json:"freelancerName,omitempty"`
	FreelancerAvatar string   `json:"freelancerAvatar,omitempty"`
	PortfolioImages  []string `json:"portfolioImages,omitempty"`
	Skills           []string `json:"skills,omitempty"`
}

// Job is a posted request for work.
type Job struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Budget      int      `json:"budget"`
	Deadline    string   `json:"deadline,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

// AllCategories is the facet value meaning "no category filter".
const AllCategories = "All"

// SearchParams filters a service search.
type SearchParams struct {
	Query    string
	Category string
	Page     int
	Limit    int
}

// ServicePage is one page of search results.
type ServicePage struct {
	Services []Service `json:"services"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
}

// JobParams filters a job listing.
type JobParams struct {
	Category string
	Page     int
	Limit    int
}

// JobPage is one page of jobs.
type JobPage struct {
	Jobs  []Job `json:"jobs"`
	Total int   `json:"total"`
	Page  int   `json:"page"`
}

// Price types accepted for a service listing.
const (
	PriceFixed      = "FIXED"
	PriceNegotiable = "NEGOTIABLE"
)

// ServiceForm is a new service listing. Portfolio images are sent as file
// parts named portfolioImages.
type ServiceForm struct {
	Title       string   `validate:"required"`
	Description string   `validate:"required"`
	Category    string   `validate:"required,ne=All"`
	Price       float64  `validate:"gt=0"`
	PriceType   string   `validate:"omitempty,oneof=FIXED NEGOTIABLE"`
	Skills      []string `validate:"-"`

	PortfolioImages []Attachment `validate:"-"`
}

// JobForm is a new job posting.
type JobForm struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Category    string   `json:"category" validate:"required,ne=All"`
	Budget      int      `json:"budget" validate:"gt=0"`
	Deadline    string   `json:"deadline,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Skills      []string `json:"skills" validate:"-"`
}
