package engine

import (
	"log/slog"
	"time"

	"github.com/jmcleod/halflife/daemon"
	"github.com/jmcleod/halflife/internal/clock"
	"github.com/jmcleod/halflife/validator"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the engine's time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger.With("component", "engine") }
}

// WithTimelockModulusBits sets the puzzle modulus size. Production uses
// the timelock default; tests shrink it.
func WithTimelockModulusBits(bits int) Option {
	return func(e *Engine) { e.modulusBits = bits }
}

// WithAdversaryModel sets the assumed sequential squaring throughput and
// safety margin used to calibrate puzzle iteration counts against
// fragment lifetimes.
func WithAdversaryModel(squaringsPerSecond uint64, margin float64) Option {
	return func(e *Engine) {
		e.squaringsPerSecond = squaringsPerSecond
		e.calibrationMargin = margin
	}
}

// WithQuorumRetry bounds freshness-query retries on network-level quorum
// failures.
func WithQuorumRetry(attempts int, backoff time.Duration) Option {
	return func(e *Engine) {
		e.quorumAttempts = attempts
		e.quorumBackoff = backoff
	}
}

// WithRegistrar adds a metadata registrar (typically a validator node)
// that is informed of every fragment the engine creates.
func WithRegistrar(r validator.Registrar) Option {
	return func(e *Engine) { e.registrars = append(e.registrars, r) }
}

// WithDaemon hands the engine the expiry daemon so a successful
// reconstruction can consume its fragments immediately.
func WithDaemon(dm *daemon.Daemon) Option {
	return func(e *Engine) { e.daemon = dm }
}

// WithConsumeOnReconstruct purges fragments immediately after they are
// used in a successful reconstruction. Requires WithDaemon.
func WithConsumeOnReconstruct() Option {
	return func(e *Engine) { e.consumeOnReconstruct = true }
}
