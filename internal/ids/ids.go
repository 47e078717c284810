// Package ids generates the identifiers handoff hands out.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a random UUIDv4 string. Session and token ids are the only
// secret a client holds, so they must come from crypto/rand.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s looks like an id produced by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

// NewRequestID returns a ULID; sortable ids make request logs easy to scan.
func NewRequestID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
