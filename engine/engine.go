// Package engine ties the fragmentation pipeline together: it splits a
// secret into threshold shares, wraps each share in a time-lock layer,
// stores the ciphertext, and registers every fragment with the expiry
// machinery and the validation network in one atomic step. It also hosts
// the reconstruction gate, which only combines shares after the
// validation network has vouched for them.
package engine

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmcleod/halflife/audit"
	"github.com/jmcleod/halflife/daemon"
	"github.com/jmcleod/halflife/fragment"
	"github.com/jmcleod/halflife/internal/clock"
	"github.com/jmcleod/halflife/internal/shamir"
	"github.com/jmcleod/halflife/internal/util"
	"github.com/jmcleod/halflife/internal/uuid"
	"github.com/jmcleod/halflife/registry"
	"github.com/jmcleod/halflife/storage"
	"github.com/jmcleod/halflife/timelock"
	"github.com/jmcleod/halflife/validator"
)

const (
	// DefaultSquaringsPerSecond is the assumed adversary throughput for
	// puzzle calibration: modular squarings per second on dedicated
	// hardware. Revisit as hardware improves.
	DefaultSquaringsPerSecond = 50_000_000
	// DefaultCalibrationMargin oversizes the puzzle relative to the
	// fragment lifetime.
	DefaultCalibrationMargin = 1.5

	locationPrefix = "fragments/"
)

// Engine is the fragmentation controller and reconstruction gate.
type Engine struct {
	registry   registry.Registry
	store      storage.Store
	network    *validator.Network
	auditLog   *audit.Log
	daemon     *daemon.Daemon
	registrars []validator.Registrar
	clock      clock.Clock
	logger     *slog.Logger

	modulusBits        int
	squaringsPerSecond uint64
	calibrationMargin  float64
	quorumAttempts     int
	quorumBackoff      time.Duration

	consumeOnReconstruct bool

	mu       sync.RWMutex
	sessions map[string]*fragment.Session
}

// New creates an Engine over the given registry, ciphertext store,
// validation network and audit log.
func New(reg registry.Registry, store storage.Store, network *validator.Network, auditLog *audit.Log, opts ...Option) *Engine {
	e := &Engine{
		registry:           reg,
		store:              store,
		network:            network,
		auditLog:           auditLog,
		clock:              clock.System{},
		modulusBits:        timelock.DefaultModulusBits,
		squaringsPerSecond: DefaultSquaringsPerSecond,
		calibrationMargin:  DefaultCalibrationMargin,
		quorumAttempts:     3,
		quorumBackoff:      200 * time.Millisecond,
		sessions:           make(map[string]*fragment.Session),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "engine")
	}
	return e
}

// Session returns the session record for the given ID.
func (e *Engine) Session(sessionID string) (*fragment.Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// FragmentAAD binds a fragment's identity into its time-lock layer so a
// share ciphertext cannot be replayed under another fragment's identity.
// Solvers opening an exported puzzle without the trapdoor must present
// the same binding.
func FragmentAAD(sessionID, fragmentID string, index int) []byte {
	return []byte(fmt.Sprintf("halflife:fragment:v1:%s:%s:%d", sessionID, fragmentID, index))
}

// Fragment splits secret per the policy, time-locks each share, persists
// the ciphertext and registers every fragment with the registry, the
// expiry machinery and the validators. Creation is atomic: a failure
// part-way rolls back every fragment already created, so no fragment can
// exist without an expiry guarantee.
func (e *Engine) Fragment(ctx context.Context, secret []byte, policy fragment.Policy) (*fragment.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := policy.Validate(len(secret)); err != nil {
		return nil, err
	}

	shares, err := shamir.Split(secret, policy.Threshold, policy.Shares)
	if err != nil {
		return nil, fmt.Errorf("splitting secret: %w", err)
	}
	defer func() {
		for i := range shares {
			util.WipeBytes(shares[i].Value)
		}
	}()

	now := e.clock.Now()
	macKey, err := util.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, macKey)
	mac.Write(secret)

	session := &fragment.Session{
		ID:            uuid.New(),
		Threshold:     policy.Threshold,
		Shares:        policy.Shares,
		CreatedAt:     now,
		SecurityLevel: policy.SecurityLevel,
		MACKey:        macKey,
		MAC:           mac.Sum(nil),
	}

	// The puzzle must outlast the longest possible fragment lifetime
	// under the assumed adversary throughput.
	params := timelock.Params{
		ModulusBits: e.modulusBits,
		Iterations: timelock.IterationsFor(
			policy.ExpiryDuration+policy.JitterRange,
			e.squaringsPerSecond,
			e.calibrationMargin,
		),
	}

	created := make([]*registry.Entry, 0, len(shares))
	rollback := func() {
		for _, entry := range created {
			entry.Trapdoor.Destroy()
			e.registry.Remove(entry.Fragment.ID)
			for _, r := range e.registrars {
				r.Forget(entry.Fragment.ID)
			}
			if err := e.store.SecureOverwrite(entry.Location, policy.ErasePassCount()); err == nil {
				_ = e.store.Delete(entry.Location)
			}
		}
	}

	for _, share := range shares {
		if err := ctx.Err(); err != nil {
			rollback()
			return nil, err
		}

		f := &fragment.Fragment{
			ID:        uuid.New(),
			SessionID: session.ID,
			Index:     share.Index,
			CreatedAt: now,
			State:     fragment.StateActive,
		}
		f.ExpiresAt, err = policy.ExpiryFor(now)
		if err != nil {
			rollback()
			return nil, err
		}
		f.ValidationHash = fragment.ValidationHash(f.ID, f.SessionID, f.Index, f.ExpiresAt)

		aad := FragmentAAD(f.SessionID, f.ID, f.Index)
		puzzle, trapdoor, err := timelock.Seal(share.Value, aad, params)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("time-locking share %d: %w", share.Index, err)
		}
		f.Ciphertext = puzzle.Ciphertext

		blob, err := json.Marshal(puzzle)
		if err != nil {
			trapdoor.Destroy()
			rollback()
			return nil, fmt.Errorf("encoding puzzle: %w", err)
		}

		location := locationPrefix + f.ID
		if err := e.store.Write(location, blob); err != nil {
			trapdoor.Destroy()
			rollback()
			return nil, fmt.Errorf("storing fragment %s: %w", f.ID, err)
		}

		entry := &registry.Entry{Fragment: f, Trapdoor: trapdoor, Location: location}
		if err := e.registry.Insert(entry); err != nil {
			trapdoor.Destroy()
			_ = e.store.Delete(location)
			rollback()
			return nil, fmt.Errorf("registering fragment %s: %w", f.ID, err)
		}
		created = append(created, entry)

		for _, r := range e.registrars {
			r.Register(f)
		}

		session.FragmentIDs = append(session.FragmentIDs, f.ID)
		e.recordAudit(audit.EventCreated, session.ID, f.ID, fmt.Sprintf("index=%d expiry=%s", f.Index, f.ExpiresAt.UTC().Format(time.RFC3339Nano)), now)
	}

	e.mu.Lock()
	e.sessions[session.ID] = session
	e.mu.Unlock()

	e.logger.Info("secret fragmented",
		slog.String("session_id", session.ID),
		slog.Int("shares", policy.Shares),
		slog.Int("threshold", policy.Threshold),
		slog.Duration("expiry", policy.ExpiryDuration),
	)
	return session, nil
}

func (e *Engine) recordAudit(event audit.Event, sessionID, fragmentID, detail string, at time.Time) {
	if e.auditLog == nil {
		return
	}
	if err := e.auditLog.Record(event, sessionID, fragmentID, detail, at); err != nil {
		e.logger.Error("audit append failed",
			slog.String("event", string(event)),
			slog.String("fragment_id", fragmentID),
			slog.String("error", err.Error()),
		)
	}
}
