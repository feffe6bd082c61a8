package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return key
}

func recordN(t *testing.T, l *Log, n int) {
	t.Helper()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		err := l.Record(EventCreated, "sess-1", "frag-1", "", at.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
}

func TestLog_RecordChainsEntries(t *testing.T) {
	l, err := NewLog(NewMemoryStore(), testKey(t), "test-actor")
	require.NoError(t, err)

	require.NoError(t, l.Record(EventCreated, "sess-1", "frag-1", "index=1", time.Now()))
	require.NoError(t, l.Record(EventExpired, "sess-1", "frag-1", "", time.Now()))

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, GenesisHash, entries[0].PrevHash)
	assert.NotEqual(t, GenesisHash, entries[1].PrevHash)
	assert.Equal(t, "test-actor", entries[0].Actor)
	assert.Equal(t, EventCreated, entries[0].Event)
	assert.Equal(t, EventExpired, entries[1].Event)
	assert.NotEmpty(t, entries[0].Signature)
}

func TestVerify(t *testing.T) {
	key := testKey(t)
	l, err := NewLog(NewMemoryStore(), key, "test-actor")
	require.NoError(t, err)
	recordN(t, l, 5)

	entries, err := l.Entries()
	require.NoError(t, err)
	require.NoError(t, Verify(entries, l.PublicKey()))

	// An empty log verifies trivially.
	require.NoError(t, Verify(nil, l.PublicKey()))
}

func TestVerify_DetectsTampering(t *testing.T) {
	l, err := NewLog(NewMemoryStore(), testKey(t), "test-actor")
	require.NoError(t, err)
	recordN(t, l, 3)

	entries, err := l.Entries()
	require.NoError(t, err)

	tampered := make([]Entry, len(entries))
	copy(tampered, entries)
	tampered[1].Detail = "rewritten history"
	assert.Error(t, Verify(tampered, l.PublicKey()))

	// Dropping an entry breaks the chain.
	assert.Error(t, Verify(append([]Entry{entries[0]}, entries[2]), l.PublicKey()))

	// Reordering breaks the chain.
	assert.Error(t, Verify([]Entry{entries[1], entries[0], entries[2]}, l.PublicKey()))

	// A different key fails signature verification.
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	assert.Error(t, Verify(entries, otherPub))
}

func TestNewLog_ResumesChain(t *testing.T) {
	key := testKey(t)
	store := NewMemoryStore()

	l, err := NewLog(store, key, "test-actor")
	require.NoError(t, err)
	recordN(t, l, 2)

	// A new Log over the same store continues the chain instead of
	// restarting at genesis.
	resumed, err := NewLog(store, key, "test-actor")
	require.NoError(t, err)
	require.NoError(t, resumed.Record(EventReconstructed, "sess-1", "", "", time.Now()))

	entries, err := resumed.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.NoError(t, Verify(entries, resumed.PublicKey()))
}

func TestBoltStore_AppendOrder(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "audit.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	l, err := NewLog(NewBoltStore(db), testKey(t), "test-actor")
	require.NoError(t, err)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{EventCreated, EventValidated, EventExpired, EventPurgeConfirmed}
	for _, ev := range events {
		require.NoError(t, l.Record(ev, "sess-1", "frag-1", "", at))
	}

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, len(events))
	for i, ev := range events {
		assert.Equal(t, ev, entries[i].Event)
	}
	require.NoError(t, Verify(entries, l.PublicKey()))
}
