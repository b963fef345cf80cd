package core

import (
	"fmt"

	"github.com/google/uuid"
)

// ID identifies a workflow execution. IDs are UUID v4 strings.
type ID string

func (i ID) String() string { return string(i) }

// IsZero reports whether the ID is unset.
func (i ID) IsZero() bool { return i == "" }

// NewID returns a fresh execution ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID validates s as a UUID and returns it as an ID.
func ParseID(s string) (ID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid execution id %q: %w", s, err)
	}
	return ID(parsed.String()), nil
}
