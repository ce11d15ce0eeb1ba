package session

import "github.com/google/uuid"

// NewID generates a new session identifier.
func NewID() string {
	return uuid.NewString()
}

// ExpandShortID turns a short ID prefix into a SQL LIKE pattern matching any
// full ID starting with it.
func ExpandShortID(prefix string) string {
	return prefix + "%"
}
