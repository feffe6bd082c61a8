package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates an unknown (or already destroyed)
	// session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionMismatch indicates the candidate fragments span more than
	// one session.
	ErrSessionMismatch = errors.New("fragments span multiple sessions")
	// ErrFragmentExpired is the core guarantee surfacing: the fragment's
	// temporal window has closed and its trapdoor is gone. Never retried.
	ErrFragmentExpired = errors.New("fragment expired")
	// ErrQuorumFailed indicates the validation network could not reach a
	// quorum verdict within the bounded retry budget. Retryable.
	ErrQuorumFailed = errors.New("validation quorum failed")
	// ErrIntegrityCheckFailed indicates the reconstructed secret failed
	// its MAC. Fatal for the session: possible tampering, never retried
	// with alternate share subsets.
	ErrIntegrityCheckFailed = errors.New("integrity check failed")
)

// InsufficientFragmentsError indicates fewer valid fragments than the
// session's threshold. Recoverable: the caller may gather more shares.
type InsufficientFragmentsError struct {
	ValidCount int
	Required   int
}

func (e *InsufficientFragmentsError) Error() string {
	return fmt.Sprintf("insufficient fragments: %d valid, %d required", e.ValidCount, e.Required)
}
