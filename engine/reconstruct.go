package engine

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/halflife/audit"
	"github.com/jmcleod/halflife/fragment"
	"github.com/jmcleod/halflife/internal/shamir"
	"github.com/jmcleod/halflife/internal/util"
	"github.com/jmcleod/halflife/registry"
	"github.com/jmcleod/halflife/timelock"
	"github.com/jmcleod/halflife/validator"
)

// Result is a successful reconstruction.
type Result struct {
	Secret        []byte
	SessionID     string
	FragmentsUsed []string
	// RemainingWindow is how much temporal window was left at
	// reconstruction time: the smallest remaining lifetime among the
	// fragments used, as reported by the validation network.
	RemainingWindow time.Duration
}

// candidate is a fragment that passed quorum validation.
type candidate struct {
	entry     *registry.Entry
	remaining time.Duration
}

// Reconstruct recovers the secret of a session from the caller-supplied
// candidate fragments. Every candidate is checked against the validation
// network first; only a valid subset of at least threshold size is
// decrypted and combined, and the result must pass the session MAC. No
// partial secret is materialized before combination completes.
func (e *Engine) Reconstruct(ctx context.Context, sessionID string, fragmentIDs []string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := e.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if len(fragmentIDs) == 0 {
		return nil, &InsufficientFragmentsError{ValidCount: 0, Required: session.Threshold}
	}

	valid, expired, err := e.validateCandidates(ctx, sessionID, fragmentIDs, session.Threshold)
	if err != nil {
		e.recordAudit(audit.EventReconstructionFailed, sessionID, "", err.Error(), e.clock.Now())
		return nil, err
	}

	if len(valid) < session.Threshold {
		// Past-expiry fragments are the core guarantee firing, not a
		// recoverable shortage.
		if expired > 0 {
			err := fmt.Errorf("%w: %d of %d candidates past expiry", ErrFragmentExpired, expired, len(fragmentIDs))
			e.recordAudit(audit.EventReconstructionFailed, sessionID, "", err.Error(), e.clock.Now())
			return nil, err
		}
		insufficient := &InsufficientFragmentsError{ValidCount: len(valid), Required: session.Threshold}
		e.recordAudit(audit.EventReconstructionFailed, sessionID, "", insufficient.Error(), e.clock.Now())
		return nil, insufficient
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Decrypt exactly threshold shares; more adds nothing.
	chosen := valid[:session.Threshold]
	shares := make([]shamir.Share, 0, len(chosen))
	used := make([]string, 0, len(chosen))
	window := time.Duration(0)
	for _, c := range chosen {
		share, err := e.openShare(c.entry)
		if err != nil {
			for i := range shares {
				util.WipeBytes(shares[i].Value)
			}
			e.recordAudit(audit.EventReconstructionFailed, sessionID, c.entry.Fragment.ID, err.Error(), e.clock.Now())
			return nil, err
		}
		shares = append(shares, share)
		used = append(used, c.entry.Fragment.ID)
		if window == 0 || c.remaining < window {
			window = c.remaining
		}
	}
	defer func() {
		for i := range shares {
			util.WipeBytes(shares[i].Value)
		}
	}()

	secret, err := shamir.Combine(shares)
	if err != nil {
		e.recordAudit(audit.EventReconstructionFailed, sessionID, "", err.Error(), e.clock.Now())
		return nil, fmt.Errorf("combining shares: %w", err)
	}

	mac := hmac.New(sha256.New, session.MACKey)
	mac.Write(secret)
	if !hmac.Equal(mac.Sum(nil), session.MAC) {
		util.WipeBytes(secret)
		e.recordAudit(audit.EventReconstructionFailed, sessionID, "", "integrity check failed", e.clock.Now())
		return nil, ErrIntegrityCheckFailed
	}

	now := e.clock.Now()
	e.recordAudit(audit.EventReconstructed, sessionID, "", fmt.Sprintf("fragments=%d window=%s", len(used), window), now)
	e.logger.Info("secret reconstructed",
		slog.String("session_id", sessionID),
		slog.Int("fragments_used", len(used)),
		slog.Duration("remaining_window", window),
	)

	if e.consumeOnReconstruct && e.daemon != nil {
		for _, id := range used {
			if err := e.daemon.Purge(ctx, id); err != nil {
				e.logger.Error("consume purge failed",
					slog.String("fragment_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return &Result{
		Secret:          secret,
		SessionID:       sessionID,
		FragmentsUsed:   used,
		RemainingWindow: window,
	}, nil
}

// validateCandidates runs the quorum freshness check for every candidate
// and partitions them into valid fragments and an expired count. Quorum
// reads that fail at the network level are retried with backoff up to the
// engine's attempt budget; if the shortfall could have changed the
// outcome the whole operation fails with ErrQuorumFailed.
func (e *Engine) validateCandidates(ctx context.Context, sessionID string, fragmentIDs []string, required int) ([]candidate, int, error) {
	var (
		valid       []candidate
		expired     int
		unreachable int
	)

	now := e.clock.Now()
	for _, id := range fragmentIDs {
		entry, err := e.registry.Get(id)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				// Unregistered means purged (or never created): the
				// fragment's window has closed either way.
				expired++
				continue
			}
			return nil, 0, err
		}
		if entry.Fragment.SessionID != sessionID {
			return nil, 0, fmt.Errorf("%w: fragment %s belongs to session %s", ErrSessionMismatch, id, entry.Fragment.SessionID)
		}

		req := validator.Request{
			FragmentID:    id,
			ClaimedExpiry: entry.Fragment.ExpiresAt,
			ClaimedHash:   entry.Fragment.ValidationHash,
			Now:           now,
		}
		decision, err := e.checkWithRetry(ctx, req)
		if err != nil {
			unreachable++
			continue
		}
		if !decision.Valid {
			if entry.Fragment.Expired(now) {
				expired++
			}
			// Without a valid-majority the fragment is treated as
			// invalid; security over availability.
			continue
		}

		valid = append(valid, candidate{entry: entry, remaining: decision.Remaining})
		e.recordAudit(audit.EventValidated, sessionID, id, fmt.Sprintf("remaining=%s", decision.Remaining), now)
	}

	if unreachable > 0 && len(valid) < required {
		return valid, expired, fmt.Errorf("%w: %d of %d freshness checks unreachable", ErrQuorumFailed, unreachable, len(fragmentIDs))
	}
	return valid, expired, nil
}

func (e *Engine) checkWithRetry(ctx context.Context, req validator.Request) (validator.Decision, error) {
	var (
		decision validator.Decision
		err      error
	)
	backoff := e.quorumBackoff
	for attempt := 1; attempt <= e.quorumAttempts; attempt++ {
		decision, err = e.network.CheckFreshness(ctx, req)
		if err == nil {
			return decision, nil
		}
		if !errors.Is(err, validator.ErrQuorumUnreachable) || attempt == e.quorumAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return decision, ctx.Err()
		}
		backoff *= 2
	}
	return decision, err
}

// openShare decrypts one fragment's time-lock layer under the fragment's
// exclusive lock, so the expiry daemon cannot half-erase it mid-read.
func (e *Engine) openShare(entry *registry.Entry) (shamir.Share, error) {
	var share shamir.Share
	err := e.registry.WithLock(entry.Fragment.ID, func(entry *registry.Entry) error {
		f := entry.Fragment
		if f.State == fragment.StatePurged {
			return fmt.Errorf("%w: fragment %s purged", ErrFragmentExpired, f.ID)
		}

		blob, err := e.store.Read(entry.Location)
		if err != nil {
			return fmt.Errorf("reading fragment %s: %w", f.ID, err)
		}
		var puzzle timelock.Puzzle
		if err := json.Unmarshal(blob, &puzzle); err != nil {
			return fmt.Errorf("decoding puzzle for fragment %s: %w", f.ID, err)
		}

		aad := FragmentAAD(f.SessionID, f.ID, f.Index)
		plaintext, err := timelock.Open(&puzzle, entry.Trapdoor, aad)
		if err != nil {
			if errors.Is(err, timelock.ErrTrapdoorDestroyed) {
				return fmt.Errorf("%w: fragment %s trapdoor destroyed", ErrFragmentExpired, f.ID)
			}
			return fmt.Errorf("opening fragment %s: %w", f.ID, err)
		}

		share = shamir.Share{Index: f.Index, Value: plaintext}
		return nil
	})
	if err != nil {
		return shamir.Share{}, err
	}
	return share, nil
}
