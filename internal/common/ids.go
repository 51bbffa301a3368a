package common

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a lexically sortable, monotonic id. Safe for concurrent use.
func NewULID() string {
	return ulid.Make().String()
}

func NewUUID() string {
	return uuid.NewString()
}
