// Package daemon implements the expiry enforcement process: a scheduled,
// cancellable task that scans the fragment registry and, for every
// fragment past its expiry time, destroys its trapdoor material,
// overwrites and deallocates its ciphertext, emits signed audit records,
// and marks it purged. Purging is idempotent and runs under each
// fragment's exclusive lock so a concurrent reconstruction can never
// observe a half-erased fragment.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmcleod/halflife/audit"
	"github.com/jmcleod/halflife/fragment"
	"github.com/jmcleod/halflife/internal/clock"
	"github.com/jmcleod/halflife/registry"
	"github.com/jmcleod/halflife/storage"
)

// ErrDeletionUnconfirmed indicates ciphertext destruction could not be
// confirmed within the retry budget. This breaks the temporal guarantee
// and is surfaced as a critical alert, never silently swallowed. The
// trapdoor is destroyed before any storage I/O, so the cryptographic
// guarantee holds even when this error is raised.
var ErrDeletionUnconfirmed = errors.New("deletion confirmation failed")

// DefaultPollInterval is how often the registry is scanned for expired
// fragments.
const DefaultPollInterval = time.Second

// AlertFunc receives critical purge failures.
type AlertFunc func(fragmentID string, err error)

// ForgetFunc is notified when a fragment has been purged, letting the
// surrounding system (e.g. validator nodes) drop its metadata.
type ForgetFunc func(fragmentID string)

// Daemon is the expiry enforcement task.
type Daemon struct {
	registry registry.Registry
	store    storage.Store
	auditLog *audit.Log
	clock    clock.Clock
	logger   *slog.Logger

	interval    time.Duration
	passes      int
	maxAttempts int
	baseBackoff time.Duration
	alert       AlertFunc
	onPurged    []ForgetFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	// inflight tracks running deletions so Stop can drain them.
	// A deletion, once started, runs to completion.
	inflight sync.WaitGroup
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithClock sets the daemon's time source.
func WithClock(c clock.Clock) Option {
	return func(dm *Daemon) { dm.clock = c }
}

// WithPollInterval sets the registry scan interval.
func WithPollInterval(interval time.Duration) Option {
	return func(dm *Daemon) { dm.interval = interval }
}

// WithErasePasses sets the overwrite pass count used at purge time.
func WithErasePasses(passes int) Option {
	return func(dm *Daemon) { dm.passes = passes }
}

// WithRetryPolicy bounds the storage retry loop: up to maxAttempts tries
// with exponential backoff starting at base.
func WithRetryPolicy(maxAttempts int, base time.Duration) Option {
	return func(dm *Daemon) {
		dm.maxAttempts = maxAttempts
		dm.baseBackoff = base
	}
}

// WithAlertFunc sets the critical-failure alert hook.
func WithAlertFunc(fn AlertFunc) Option {
	return func(dm *Daemon) { dm.alert = fn }
}

// WithPurgeListener adds a hook called after a fragment is purged.
func WithPurgeListener(fn ForgetFunc) Option {
	return func(dm *Daemon) { dm.onPurged = append(dm.onPurged, fn) }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(dm *Daemon) { dm.logger = logger.With("component", "expiry-daemon") }
}

// New creates an expiry daemon over the given registry, store and audit
// log.
func New(reg registry.Registry, store storage.Store, auditLog *audit.Log, opts ...Option) *Daemon {
	dm := &Daemon{
		registry:    reg,
		store:       store,
		auditLog:    auditLog,
		clock:       clock.System{},
		interval:    DefaultPollInterval,
		passes:      fragment.DefaultErasePasses,
		maxAttempts: 5,
		baseBackoff: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(dm)
	}
	if dm.logger == nil {
		dm.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "expiry-daemon")
	}
	return dm
}

// Start launches the poll loop. It returns an error if the daemon is
// already running.
func (dm *Daemon) Start(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.cancel != nil {
		return fmt.Errorf("daemon already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	dm.cancel = cancel
	stopped := make(chan struct{})
	dm.stopped = stopped

	ticks, stopTicks := dm.clock.Tick(dm.interval)
	go func() {
		defer close(stopped)
		defer stopTicks()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				dm.Sweep(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels the poll loop and drains in-flight deletions to
// completion. It is safe to call on a daemon that was never started.
func (dm *Daemon) Stop() {
	dm.mu.Lock()
	cancel := dm.cancel
	stopped := dm.stopped
	dm.cancel = nil
	dm.stopped = nil
	dm.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}
	dm.inflight.Wait()
}

// Sweep performs one registry scan, purging every expired fragment. It is
// the unit of work the poll loop repeats and is exported for callers that
// need a deterministic single pass.
func (dm *Daemon) Sweep(ctx context.Context) {
	now := dm.clock.Now()
	for _, e := range dm.registry.Snapshot() {
		if !e.Fragment.Expired(now) {
			continue
		}
		if err := dm.Purge(ctx, e.Fragment.ID); err != nil && !errors.Is(err, registry.ErrNotFound) {
			dm.logger.Error("purge failed",
				slog.String("fragment_id", e.Fragment.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Purge destroys one fragment: trapdoor first, then ciphertext, then the
// registry entry. Purging a fragment that is already purged or no longer
// registered is a no-op. The deletion runs to completion even if ctx is
// cancelled part-way; cancellation only prevents new deletions from
// starting.
func (dm *Daemon) Purge(ctx context.Context, fragmentID string) error {
	dm.inflight.Add(1)
	defer dm.inflight.Done()

	err := dm.registry.WithLock(fragmentID, func(e *registry.Entry) error {
		return dm.purgeLocked(ctx, e)
	})
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrAlreadyPurged) {
		return nil
	}
	return err
}

func (dm *Daemon) purgeLocked(ctx context.Context, e *registry.Entry) error {
	f := e.Fragment
	switch f.State {
	case fragment.StatePurged:
		return registry.ErrAlreadyPurged
	case fragment.StateActive:
		if err := e.Transition(fragment.StateActive, fragment.StateExpiring); err != nil {
			return err
		}
	}

	now := dm.clock.Now()
	dm.recordAudit(audit.EventPurgeStarted, f, fmt.Sprintf("state=%s expiry=%s", f.State, f.ExpiresAt.UTC().Format(time.RFC3339Nano)), now)

	// Trapdoor destruction is the primary guarantee and must precede any
	// storage I/O that could fail.
	e.Trapdoor.Destroy()

	if err := dm.eraseWithRetry(ctx, e.Location); err != nil {
		err = fmt.Errorf("%w: fragment %s location %s: %v", ErrDeletionUnconfirmed, f.ID, e.Location, err)
		dm.recordAudit(audit.EventDeletionUnconfirmed, f, err.Error(), dm.clock.Now())
		if dm.alert != nil {
			dm.alert(f.ID, err)
		}
		// The fragment stays in expiring state so the next sweep retries
		// the erase; the trapdoor is already gone.
		return err
	}

	if err := e.Transition(fragment.StateExpiring, fragment.StatePurged); err != nil {
		return err
	}
	f.Ciphertext = nil
	done := dm.clock.Now()
	dm.recordAudit(audit.EventExpired, f, "", done)
	dm.recordAudit(audit.EventPurgeConfirmed, f, fmt.Sprintf("passes=%d", dm.passes), done)

	dm.registry.Remove(f.ID)
	for _, fn := range dm.onPurged {
		fn(f.ID)
	}

	dm.logger.Info("fragment purged",
		slog.String("fragment_id", f.ID),
		slog.String("session_id", f.SessionID),
		slog.Time("expired_at", f.ExpiresAt),
	)
	return nil
}

// eraseWithRetry overwrites and deallocates a storage location, retrying
// transient failures with exponential backoff up to the attempt budget.
// A location that is already gone counts as confirmed.
func (dm *Daemon) eraseWithRetry(ctx context.Context, location string) error {
	var lastErr error
	backoff := dm.baseBackoff
	for attempt := 1; attempt <= dm.maxAttempts; attempt++ {
		lastErr = dm.eraseOnce(location)
		if lastErr == nil {
			return nil
		}
		if attempt == dm.maxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			// Finish the attempt budget without waiting; deletions are
			// not abandoned on cancellation.
		}
		backoff *= 2
	}
	return fmt.Errorf("after %d attempts: %w", dm.maxAttempts, lastErr)
}

func (dm *Daemon) eraseOnce(location string) error {
	if err := dm.store.SecureOverwrite(location, dm.passes); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("secure overwrite: %w", err)
	}
	if err := dm.store.Delete(location); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (dm *Daemon) recordAudit(event audit.Event, f *fragment.Fragment, detail string, at time.Time) {
	if dm.auditLog == nil {
		return
	}
	if err := dm.auditLog.Record(event, f.SessionID, f.ID, detail, at); err != nil {
		dm.logger.Error("audit append failed",
			slog.String("event", string(event)),
			slog.String("fragment_id", f.ID),
			slog.String("error", err.Error()),
		)
	}
}
