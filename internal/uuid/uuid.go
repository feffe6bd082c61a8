// Package uuid wraps github.com/google/uuid behind the small surface the
// rest of the module needs.
package uuid

import "github.com/google/uuid"

// New returns a new random UUID string.
func New() string {
	return uuid.NewString()
}
