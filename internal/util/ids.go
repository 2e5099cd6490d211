package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix followed by a random UUID with the dashes removed.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
