package fragment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPolicy() Policy {
	return Policy{
		Shares:         5,
		Threshold:      3,
		ExpiryDuration: time.Minute,
		JitterRange:    5 * time.Second,
	}
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, validPolicy().Validate(16))

	cases := []struct {
		name      string
		mutate    func(*Policy)
		secretLen int
	}{
		{"empty secret", func(p *Policy) {}, 0},
		{"zero shares", func(p *Policy) { p.Shares = 0 }, 16},
		{"too many shares", func(p *Policy) { p.Shares = 300 }, 16},
		{"threshold of one", func(p *Policy) { p.Threshold = 1 }, 16},
		{"threshold above shares", func(p *Policy) { p.Threshold = 6 }, 16},
		{"zero expiry", func(p *Policy) { p.ExpiryDuration = 0 }, 16},
		{"negative jitter", func(p *Policy) { p.JitterRange = -time.Second }, 16},
		{"jitter at expiry", func(p *Policy) { p.JitterRange = time.Minute }, 16},
		{"negative erase passes", func(p *Policy) { p.ErasePasses = -1 }, 16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validPolicy()
			tc.mutate(&p)
			err := p.Validate(tc.secretLen)
			require.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestPolicy_Validate_ThresholdFloorReason(t *testing.T) {
	p := validPolicy()
	p.Threshold = 1
	err := p.Validate(16)
	require.ErrorIs(t, err, ErrInvalidPolicy)
	// The rejection tells API callers why a threshold of one is stricter
	// than plain k <= n arithmetic would require.
	assert.Contains(t, err.Error(), "single fragment must never suffice")
}

func TestPolicy_ErasePassCount(t *testing.T) {
	assert.Equal(t, DefaultErasePasses, Policy{}.ErasePassCount())
	assert.Equal(t, 3, Policy{ErasePasses: 3}.ErasePassCount())
}

func TestPolicy_ExpiryFor_NoJitter(t *testing.T) {
	p := Policy{ExpiryDuration: time.Minute}
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	expiry, err := p.ExpiryFor(created)
	require.NoError(t, err)
	assert.True(t, expiry.Equal(created.Add(time.Minute)))
}

func TestPolicy_ExpiryFor_JitterWithinRange(t *testing.T) {
	p := Policy{ExpiryDuration: time.Minute, JitterRange: 5 * time.Second}
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	earliest := created.Add(time.Minute - 5*time.Second)
	latest := created.Add(time.Minute + 5*time.Second)
	for range 50 {
		expiry, err := p.ExpiryFor(created)
		require.NoError(t, err)
		assert.False(t, expiry.Before(earliest), "expiry %s before jitter window", expiry)
		assert.False(t, expiry.After(latest), "expiry %s after jitter window", expiry)
		assert.True(t, expiry.After(created))
	}
}

func TestPolicy_ExpiryFor_JitterSpreadsExpiries(t *testing.T) {
	p := Policy{ExpiryDuration: time.Minute, JitterRange: 5 * time.Second}
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	seen := make(map[time.Time]bool)
	for range 100 {
		expiry, err := p.ExpiryFor(created)
		require.NoError(t, err)
		seen[expiry] = true
	}
	// Uniform jitter over a 10s window makes mass collision vanishingly
	// unlikely.
	assert.Greater(t, len(seen), 50, "expiries are not spread")
}
