package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Credential is one persisted key/value pair of the credential store.
type Credential struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// SearchEntry records a search the client actually sent to the server.
type SearchEntry struct {
	ID        int64
	Query     string
	Category  string
	CreatedAt time.Time
}
