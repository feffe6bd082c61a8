package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/halflife/fragment"
	"github.com/jmcleod/halflife/timelock"
)

func testEntry(t *testing.T, id string) *Entry {
	t.Helper()
	_, trapdoor, err := timelock.Seal([]byte("share"), nil, timelock.Params{ModulusBits: 512, Iterations: 100})
	require.NoError(t, err)
	t.Cleanup(trapdoor.Destroy)

	return &Entry{
		Fragment: &fragment.Fragment{
			ID:        id,
			SessionID: "sess-1",
			State:     fragment.StateActive,
			ExpiresAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		Trapdoor: trapdoor,
		Location: "fragments/" + id,
	}
}

func TestMemory_InsertAndGet(t *testing.T) {
	m := NewMemory()
	e := testEntry(t, "frag-1")

	require.NoError(t, m.Insert(e))

	got, err := m.Get("frag-1")
	require.NoError(t, err)
	assert.Same(t, e, got)

	_, err = m.Get("frag-2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_InsertDuplicate(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Insert(testEntry(t, "frag-1")))
	require.ErrorIs(t, m.Insert(testEntry(t, "frag-1")), ErrDuplicate)
}

func TestMemory_Remove(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Insert(testEntry(t, "frag-1")))

	m.Remove("frag-1")
	_, err := m.Get("frag-1")
	require.ErrorIs(t, err, ErrNotFound)

	// Removing an unknown ID is a no-op.
	m.Remove("frag-1")
}

func TestMemory_Snapshot(t *testing.T) {
	m := NewMemory()
	for i := range 3 {
		require.NoError(t, m.Insert(testEntry(t, fmt.Sprintf("frag-%d", i))))
	}

	snap := m.Snapshot()
	assert.Len(t, snap, 3)

	// The snapshot is a point-in-time copy.
	m.Remove("frag-0")
	assert.Len(t, snap, 3)
	assert.Len(t, m.Snapshot(), 2)
}

func TestMemory_WithLock(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Insert(testEntry(t, "frag-1")))

	called := false
	err := m.WithLock("frag-1", func(e *Entry) error {
		called = true
		assert.Equal(t, "frag-1", e.Fragment.ID)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	err = m.WithLock("frag-2", func(e *Entry) error {
		t.Fatal("fn must not run for an unknown fragment")
		return nil
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_WithLock_Exclusive(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Insert(testEntry(t, "frag-1")))

	var inside int
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLock("frag-1", func(e *Entry) error {
				inside++
				if e.Fragment.State == fragment.StateActive {
					e.Fragment.State = fragment.StateExpiring
					e.Fragment.State = fragment.StateActive
				}
				return nil
			})
		}()
	}
	wg.Wait()
	// No race: every critsection ran and the counter is exact.
	assert.Equal(t, 8, inside)
}

func TestEntry_Transition(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Insert(testEntry(t, "frag-1")))

	transition := func(from, to fragment.State) error {
		return m.WithLock("frag-1", func(e *Entry) error {
			return e.Transition(from, to)
		})
	}

	require.NoError(t, transition(fragment.StateActive, fragment.StateExpiring))
	e, err := m.Get("frag-1")
	require.NoError(t, err)
	assert.Equal(t, fragment.StateExpiring, e.Fragment.State)

	// Backward transitions are rejected.
	require.Error(t, transition(fragment.StateExpiring, fragment.StateActive))

	require.NoError(t, transition(fragment.StateExpiring, fragment.StatePurged))

	// Purged is terminal.
	err = transition(fragment.StatePurged, fragment.StateExpiring)
	require.ErrorIs(t, err, ErrAlreadyPurged)
}

func TestEntry_Transition_StaleFrom(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Insert(testEntry(t, "frag-1")))

	err := m.WithLock("frag-1", func(e *Entry) error {
		return e.Transition(fragment.StateExpiring, fragment.StatePurged)
	})
	require.Error(t, err)

	e, err := m.Get("frag-1")
	require.NoError(t, err)
	assert.Equal(t, fragment.StateActive, e.Fragment.State)
}
