// Package uuidx generates the time ordered identifiers used for
// conversations, messages and generation sessions.
package uuidx

import "github.com/google/uuid"

// New returns a version 7 UUID. It panics if the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns New() in its canonical string form.
func NewString() string {
	return New().String()
}

// Valid reports whether s is a canonical UUID string of any version.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	return uuid.Validate(s) == nil
}
