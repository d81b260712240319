package remote

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failed call to the marketplace API.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindInvalidCredentials
	KindValidation
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkError"
	case KindInvalidCredentials:
		return "InvalidCredentials"
	case KindValidation:
		return "ValidationError"
	case KindServer:
		return "ServerError"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is matching on an *Error's kind.
var (
	ErrNetwork            = errors.New("network error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrValidation         = errors.New("validation error")
	ErrServer             = errors.New("server error")
)

// Error is the typed failure returned by every Client method.
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field issues for KindValidation.
	Fields map[string]string
	// Status is the HTTP status, zero for transport failures.
	Status int
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrInvalidCredentials:
		return e.Kind == KindInvalidCredentials
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrServer:
		return e.Kind == KindServer
	}
	return false
}

// FieldMessages returns the per-field messages sorted by field name.
func (e *Error) FieldMessages() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, e.Fields[k])
	}
	return out
}

// KindOf returns the kind of err, or zero if err is not an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// ValidationFailed builds a KindValidation error from field messages.
func ValidationFailed(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}
