// Package fragment defines the data model for temporally fragmented
// secrets: the session produced by one fragmentation operation, the
// individual time-bounded fragments it consists of, and the lifecycle
// states a fragment moves through on its way to destruction.
package fragment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"time"
)

// State is the lifecycle state of a fragment. Transitions only ever move
// forward (active -> expiring -> purged); purged is terminal.
type State string

const (
	StateActive   State = "active"
	StateExpiring State = "expiring"
	StatePurged   State = "purged"
)

// CanTransition reports whether a fragment may move from s to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateActive:
		return next == StateExpiring || next == StatePurged
	case StateExpiring:
		return next == StatePurged
	default:
		return false
	}
}

// Session identifies one fragmentation operation. It is created atomically
// with its fragments and immutable thereafter; once every fragment has
// been purged the session is logically destroyed.
type Session struct {
	ID            string    `json:"session_id"`
	Threshold     int       `json:"threshold"`
	Shares        int       `json:"shares"`
	CreatedAt     time.Time `json:"created_at"`
	SecurityLevel string    `json:"security_level,omitempty"`
	FragmentIDs   []string  `json:"fragment_ids"`

	// MACKey and MAC authenticate the reconstructed secret. The key is
	// random per session and never stored with any fragment, so it adds
	// no information about the secret to any sub-threshold share set.
	MACKey []byte `json:"mac_key"`
	MAC    []byte `json:"mac"`
}

// Fragment is one share of a fragmented secret, wrapped in its time-lock
// layer. Ciphertext holds the sealed share bytes; the plaintext share is
// never persisted.
type Fragment struct {
	ID             string    `json:"fragment_id"`
	SessionID      string    `json:"session_id"`
	Index          int       `json:"index"`
	Ciphertext     []byte    `json:"ciphertext"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	ValidationHash []byte    `json:"validation_hash"`
	State          State     `json:"state"`
}

// Expired reports whether the fragment's expiry time has passed at now.
func (f *Fragment) Expired(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}

// Remaining returns the time left before expiry at now, or zero if the
// fragment has already expired.
func (f *Fragment) Remaining(now time.Time) time.Duration {
	if f.Expired(now) {
		return 0
	}
	return f.ExpiresAt.Sub(now)
}

// ValidationHash binds a fragment's identity, session, index and expiry
// time so validators can detect a tampered expiry claim.
func ValidationHash(fragmentID, sessionID string, index int, expiresAt time.Time) []byte {
	h := sha256.New()
	h.Write([]byte(fragmentID))
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(index))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(expiresAt.UnixNano()))
	h.Write(buf[:])
	return h.Sum(nil)
}

// VerifyValidationHash recomputes the binding hash and compares it in
// constant time.
func VerifyValidationHash(f *Fragment) bool {
	expected := ValidationHash(f.ID, f.SessionID, f.Index, f.ExpiresAt)
	return subtle.ConstantTimeCompare(expected, f.ValidationHash) == 1
}
