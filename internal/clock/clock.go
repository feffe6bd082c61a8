// Package clock provides an injectable time source so expiry logic can be
// tested deterministically without real waiting.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock access for components that make time-based
// decisions.
type Clock interface {
	Now() time.Time
	// Tick returns a channel that delivers ticks at the given interval and
	// a stop function releasing the underlying resources.
	Tick(interval time.Duration) (<-chan time.Time, func())
}

// System is a Clock backed by the real system clock.
type System struct{}

var _ Clock = System{}

func (System) Now() time.Time {
	return time.Now()
}

func (System) Tick(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// Manual is a Clock whose time only moves when Advance or Set is called.
// Each Advance delivers one tick to every open Tick channel, which lets a
// test drive a poll loop one pass at a time.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	ticks []chan time.Time
}

var _ Clock = (*Manual)(nil)

// NewManual creates a Manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to the given time without ticking.
func (m *Manual) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Advance moves the clock forward and delivers one tick per registered
// ticker. Delivery is non-blocking; a ticker whose consumer is not ready
// misses the tick, matching time.Ticker semantics.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	ticks := make([]chan time.Time, len(m.ticks))
	copy(ticks, m.ticks)
	m.mu.Unlock()

	for _, c := range ticks {
		select {
		case c <- now:
		default:
		}
	}
}

func (m *Manual) Tick(interval time.Duration) (<-chan time.Time, func()) {
	c := make(chan time.Time, 1)
	m.mu.Lock()
	m.ticks = append(m.ticks, c)
	m.mu.Unlock()

	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, tc := range m.ticks {
			if tc == c {
				m.ticks = append(m.ticks[:i], m.ticks[i+1:]...)
				return
			}
		}
	}
	return c, stop
}
