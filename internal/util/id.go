package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s parses as a UUID. Book, thread and provider ids
// are UUIDs, so anything else can be rejected before a lookup.
func ValidID(s string) bool {
	return uuid.Validate(s) == nil
}
