// Package registry provides the concurrency-safe fragment registry shared
// by the fragmentation path, the expiry daemon and the reconstruction
// gate. Each entry is independently lockable so destructive lifecycle
// transitions exclude concurrent reads of the same fragment without a
// global lock.
package registry

import (
	"errors"
	"fmt"

	"github.com/jmcleod/halflife/fragment"
	"github.com/jmcleod/halflife/timelock"
)

var (
	// ErrNotFound indicates the fragment is not (or no longer) registered.
	ErrNotFound = errors.New("fragment not registered")
	// ErrDuplicate indicates an insert for an already-registered fragment.
	ErrDuplicate = errors.New("fragment already registered")
	// ErrAlreadyPurged indicates a lifecycle transition on a purged
	// fragment. Purged is terminal; callers treat this as a no-op signal,
	// not a failure.
	ErrAlreadyPurged = errors.New("fragment already purged")
)

// Entry ties a fragment to the material the engine holds for it: the
// time-lock trapdoor and the storage location of its ciphertext.
type Entry struct {
	Fragment *fragment.Fragment
	Trapdoor *timelock.Trapdoor
	Location string
}

// Transition moves the entry's fragment lifecycle state forward. It fails
// with ErrAlreadyPurged when the fragment is purged and rejects stale and
// backward transitions. The caller must hold the entry's lock.
func (e *Entry) Transition(from, to fragment.State) error {
	current := e.Fragment.State
	if current == fragment.StatePurged {
		return ErrAlreadyPurged
	}
	if current != from {
		return fmt.Errorf("fragment %s is %s, expected %s", e.Fragment.ID, current, from)
	}
	if !current.CanTransition(to) {
		return fmt.Errorf("fragment %s cannot transition %s -> %s", e.Fragment.ID, current, to)
	}
	e.Fragment.State = to
	return nil
}

// Registry is the injectable fragment registry abstraction. All methods
// are safe for concurrent use.
type Registry interface {
	// Insert registers a fragment. It fails with ErrDuplicate if the
	// fragment ID is already present.
	Insert(e *Entry) error
	// Get returns the entry for a fragment ID.
	Get(fragmentID string) (*Entry, error)
	// Snapshot returns the current entries. The slice is a point-in-time
	// copy; the entries themselves are shared and must be accessed under
	// WithLock when state matters.
	Snapshot() []*Entry
	// Remove unregisters a fragment. Removing an unknown ID is a no-op.
	Remove(fragmentID string)
	// WithLock runs fn while holding the fragment's exclusive lock.
	// Lifecycle changes go through Entry.Transition inside fn.
	WithLock(fragmentID string, fn func(e *Entry) error) error
}
