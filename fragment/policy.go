package fragment

import (
	"fmt"
	"time"

	"github.com/jmcleod/halflife/internal/shamir"
	"github.com/jmcleod/halflife/internal/util"
)

// DefaultErasePasses is the number of pseudorandom overwrite passes
// applied to a fragment's storage location at purge time.
const DefaultErasePasses = 7

// Policy configures one fragmentation operation.
type Policy struct {
	// Shares is the total number of fragments to produce (n).
	Shares int
	// Threshold is the minimum number of fragments required to
	// reconstruct the secret (k).
	Threshold int
	// ExpiryDuration is the nominal fragment lifetime.
	ExpiryDuration time.Duration
	// JitterRange randomizes each fragment's expiry by a uniform offset
	// in [-JitterRange, +JitterRange] to avoid synchronized mass-expiry.
	// Zero disables jitter.
	JitterRange time.Duration
	// ErasePasses is the overwrite pass count used at purge time.
	// Zero selects DefaultErasePasses.
	ErasePasses int
	// SecurityLevel is an opaque label carried on the session for
	// operator policy; the engine does not interpret it.
	SecurityLevel string
}

// Validate checks the policy against a secret of the given length.
func (p Policy) Validate(secretLen int) error {
	if secretLen == 0 {
		return fmt.Errorf("%w: secret must not be empty", ErrInvalidPolicy)
	}
	if p.Shares < 1 || p.Shares > shamir.MaxShares {
		return fmt.Errorf("%w: shares must be in [1,%d], got %d", ErrInvalidPolicy, shamir.MaxShares, p.Shares)
	}
	if p.Threshold < shamir.MinThreshold {
		return fmt.Errorf("%w: threshold must be at least %d (a single fragment must never suffice to reconstruct), got %d", ErrInvalidPolicy, shamir.MinThreshold, p.Threshold)
	}
	if p.Threshold > p.Shares {
		return fmt.Errorf("%w: threshold %d exceeds share count %d", ErrInvalidPolicy, p.Threshold, p.Shares)
	}
	if p.ExpiryDuration <= 0 {
		return fmt.Errorf("%w: expiry duration must be positive", ErrInvalidPolicy)
	}
	if p.JitterRange < 0 {
		return fmt.Errorf("%w: jitter range must not be negative", ErrInvalidPolicy)
	}
	if p.JitterRange >= p.ExpiryDuration {
		return fmt.Errorf("%w: jitter range %s must be smaller than expiry duration %s", ErrInvalidPolicy, p.JitterRange, p.ExpiryDuration)
	}
	if p.ErasePasses < 0 {
		return fmt.Errorf("%w: erase pass count must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// ErasePassCount returns the configured overwrite pass count, applying
// the default when unset.
func (p Policy) ErasePassCount() int {
	if p.ErasePasses == 0 {
		return DefaultErasePasses
	}
	return p.ErasePasses
}

// ExpiryFor computes a jittered expiry time for a fragment created at the
// given time. The jitter offset is drawn fresh per fragment; the result
// is always strictly after createdAt.
func (p Policy) ExpiryFor(createdAt time.Time) (time.Time, error) {
	expiry := createdAt.Add(p.ExpiryDuration)
	if p.JitterRange == 0 {
		return expiry, nil
	}
	span := 2 * int(p.JitterRange)
	n, err := util.RandomIntn(span + 1)
	if err != nil {
		return time.Time{}, fmt.Errorf("drawing expiry jitter: %w", err)
	}
	offset := time.Duration(n) - p.JitterRange
	return expiry.Add(offset), nil
}
