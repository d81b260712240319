package app

import (
	"errors"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/studex/studex/internal/remote"
)

const missingFieldsMessage = "Please fill in all required fields"

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

// basicSignupFields must all be present before any other check runs.
var basicSignupFields = map[string]bool{
	"firstName":  true,
	"lastName":   true,
	"email":      true,
	"schoolName": true,
	"level":      true,
	"matric":     true,
	"username":   true,
}

var fieldLabels = map[string]string{
	"firstName":     "First name",
	"lastName":      "Last name",
	"email":         "Email",
	"password":      "Password",
	"schoolName":    "Department",
	"level":         "Level",
	"matric":        "Matric number",
	"username":      "Username",
	"skillCategory": "Skill category",
	"title":         "Title",
	"description":   "Description",
	"category":      "Category",
	"price":         "Price",
	"priceType":     "Price type",
	"budget":        "Budget",
	"deadline":      "Deadline",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return fieldKey(f.Name) })
	v.RegisterStructValidation(signupRules, remote.SignupForm{})
	return v
}

// signupRules holds the cross-field checks: freelancers and hybrids must
// describe themselves.
func signupRules(sl validator.StructLevel) {
	f := sl.Current().Interface().(remote.SignupForm)
	if f.SkillCategory != remote.SkillFreelancer && f.SkillCategory != remote.SkillHybrid {
		return
	}
	if strings.TrimSpace(f.Bio) == "" {
		sl.ReportError(f.Bio, "bio", "Bio", "bio_required", "")
	}
}

// validateLogin returns a KindValidation *remote.Error, or nil.
func (a *App) validateLogin(email, password string) *remote.Error {
	err := a.validate.Struct(loginForm{Email: strings.TrimSpace(email), Password: password})
	return toValidationError(err, "Validation Error")
}

// validateSignup reports missing basic fields as a group, then the
// per-field checks.
func (a *App) validateSignup(f remote.SignupForm) *remote.Error {
	f.Email = strings.TrimSpace(f.Email)
	err := a.validate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		missing := map[string]string{}
		for _, fe := range verrs {
			if fe.Tag() == "required" && basicSignupFields[fe.Field()] {
				missing[fe.Field()] = fieldMessage(fe)
			}
		}
		if len(missing) > 0 {
			return remote.ValidationFailed(missingFieldsMessage, missing)
		}
	}
	return toValidationError(err, "Validation Error")
}

// validateListing checks a service or job form.
func (a *App) validateListing(form any) *remote.Error {
	return toValidationError(a.validate.Struct(form), "Validation Error")
}

func toValidationError(err error, message string) *remote.Error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return remote.ValidationFailed(err.Error(), nil)
	}
	fields := make(map[string]string, len(verrs))
	first := ""
	for _, fe := range verrs {
		msg := fieldMessage(fe)
		if _, seen := fields[fe.Field()]; seen {
			continue
		}
		fields[fe.Field()] = msg
		if first == "" {
			first = msg
		}
	}
	if first != "" {
		message = first
	}
	return remote.ValidationFailed(message, fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return label(fe.Field()) + " is required"
	case "email":
		return "Please enter a valid email address"
	case "min":
		return label(fe.Field()) + " must be at least " + fe.Param() + " characters"
	case "oneof":
		return label(fe.Field()) + " must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return label(fe.Field()) + " must be greater than " + fe.Param()
	case "ne":
		return "Pick a specific " + strings.ToLower(label(fe.Field()))
	case "datetime":
		return label(fe.Field()) + " must be a date (YYYY-MM-DD)"
	case "bio_required":
		return "Please add a professional bio"
	default:
		return label(fe.Field()) + " is invalid"
	}
}

func label(key string) string {
	if l, ok := fieldLabels[key]; ok {
		return l
	}
	return key
}

// fieldKey maps a Go field name to its wire name: SchoolName -> schoolName.
func fieldKey(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToLower(r)) + name[size:]
}
