// Package shamir implements threshold secret sharing: a secret is split
// into n shares such that any k reconstruct it exactly and any fewer than
// k carry no information about it. The field arithmetic is provided by
// sssa-golang; this package adds indexed shares and input validation.
package shamir

import (
	"encoding/hex"
	"fmt"

	sssa "github.com/SSSaaS/sssa-golang"
)

const (
	// MinThreshold is the smallest usable reconstruction threshold. A
	// threshold of one would hand the whole secret to a single share.
	MinThreshold = 2
	// MaxShares bounds both the threshold and the share count.
	MaxShares = 255
)

// Share is one piece of a split secret. Index is 1-based and identifies
// the share's position within the split; Value is the opaque share
// material produced by the underlying scheme.
type Share struct {
	Index int
	Value []byte
}

// Split divides secret into total shares with the given reconstruction
// threshold.
func Split(secret []byte, threshold, total int) ([]Share, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret must not be empty")
	}
	if threshold < MinThreshold {
		return nil, fmt.Errorf("threshold must be at least %d, got %d", MinThreshold, threshold)
	}
	if total < threshold {
		return nil, fmt.Errorf("total shares (%d) must be >= threshold (%d)", total, threshold)
	}
	if total > MaxShares {
		return nil, fmt.Errorf("total shares must not exceed %d, got %d", MaxShares, total)
	}

	created, err := sssa.Create(threshold, total, hex.EncodeToString(secret))
	if err != nil {
		return nil, fmt.Errorf("splitting secret: %w", err)
	}

	shares := make([]Share, len(created))
	for i, s := range created {
		shares[i] = Share{
			Index: i + 1,
			Value: []byte(s),
		}
	}
	return shares, nil
}

// Combine reconstructs the secret from any threshold-sized (or larger)
// subset of shares. Passing fewer shares than the original threshold does
// not fail here; it yields garbage that the caller's integrity check must
// reject, since the scheme itself cannot distinguish an undersized subset
// from a tampered one.
func Combine(shares []Share) ([]byte, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("no shares provided")
	}

	raw := make([]string, len(shares))
	for i, s := range shares {
		if len(s.Value) == 0 {
			return nil, fmt.Errorf("share %d is empty", s.Index)
		}
		if !sssa.IsValidShare(string(s.Value)) {
			return nil, fmt.Errorf("share %d is malformed", s.Index)
		}
		raw[i] = string(s.Value)
	}

	combined, err := sssa.Combine(raw)
	if err != nil {
		return nil, fmt.Errorf("combining shares: %w", err)
	}

	secret, err := hex.DecodeString(combined)
	if err != nil {
		return nil, fmt.Errorf("decoding combined secret: %w", err)
	}
	return secret, nil
}
