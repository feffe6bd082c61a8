// Package audit provides the append-only audit log for destructive and
// security-relevant engine operations. Entries form a SHA-256 hash chain
// anchored at a genesis hash and each entry is signed with the logging
// identity's Ed25519 key, so an exported log can be verified offline.
package audit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/halflife/internal/uuid"
)

// Event identifies the type of security-relevant action being logged.
type Event string

const (
	EventCreated              Event = "created"
	EventValidated            Event = "validated"
	EventExpired              Event = "expired"
	EventReconstructed        Event = "reconstructed"
	EventReconstructionFailed Event = "reconstruction_failed"
	EventPurgeStarted         Event = "purge_started"
	EventPurgeConfirmed       Event = "purge_confirmed"
	EventDeletionUnconfirmed  Event = "deletion_unconfirmed"
)

// GenesisHash anchors the first entry of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one audit record. PrevHash links it to its predecessor and
// Signature covers the chain hash, so neither reordering nor rewriting
// history escapes verification.
type Entry struct {
	ID         string `json:"id"`
	FragmentID string `json:"fragment_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Event      Event  `json:"event"`
	Actor      string `json:"actor"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
	PrevHash   string `json:"prev_hash"`
	Signature  []byte `json:"signature"`
}

// chainHash computes the SHA-256 chain link for an entry.
func chainHash(e Entry) []byte {
	h := sha256.Sum256([]byte(e.ID + e.PrevHash + e.FragmentID + e.SessionID + string(e.Event) + e.Actor + e.Detail + e.CreatedAt))
	return h[:]
}

// Store persists audit entries in append order.
type Store interface {
	Append(e Entry) error
	Entries() ([]Entry, error)
}

// Log is a signing, hash-chaining writer over a Store. All methods are
// safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	store    Store
	key      ed25519.PrivateKey
	actor    string
	lastHash string
	logger   *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithLogger mirrors each appended entry to a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger.With("component", "audit")
	}
}

// NewLog creates a Log writing to store, signing with key, attributing
// entries to actor. If the store already holds entries, the chain resumes
// from the last one.
func NewLog(store Store, key ed25519.PrivateKey, actor string, opts ...Option) (*Log, error) {
	l := &Log{
		store:    store,
		key:      key,
		actor:    actor,
		lastHash: GenesisHash,
	}
	for _, opt := range opts {
		opt(l)
	}

	existing, err := store.Entries()
	if err != nil {
		return nil, fmt.Errorf("reading existing audit entries: %w", err)
	}
	if n := len(existing); n > 0 {
		l.lastHash = hex.EncodeToString(chainHash(existing[n-1]))
	}
	return l, nil
}

// PublicKey returns the verification key for entries signed by this Log.
func (l *Log) PublicKey() ed25519.PublicKey {
	return l.key.Public().(ed25519.PublicKey)
}

// Record appends a signed entry for the given event.
func (l *Log) Record(event Event, sessionID, fragmentID, detail string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		ID:         uuid.New(),
		FragmentID: fragmentID,
		SessionID:  sessionID,
		Event:      event,
		Actor:      l.actor,
		Detail:     detail,
		CreatedAt:  at.UTC().Format(time.RFC3339Nano),
		PrevHash:   l.lastHash,
	}
	link := chainHash(e)
	e.Signature = ed25519.Sign(l.key, link)

	if err := l.store.Append(e); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	l.lastHash = hex.EncodeToString(link)

	if l.logger != nil {
		l.logger.Info("audit",
			slog.String("event", string(event)),
			slog.String("session_id", sessionID),
			slog.String("fragment_id", fragmentID),
			slog.String("detail", detail),
			slog.String("actor", l.actor),
		)
	}
	return nil
}

// Entries returns the log contents in append order.
func (l *Log) Entries() ([]Entry, error) {
	return l.store.Entries()
}

// Verify checks the hash chain and every signature of an exported log.
func Verify(entries []Entry, pub ed25519.PublicKey) error {
	prev := GenesisHash
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("entry %d (%s): chain broken, prev_hash %s does not match %s", i, e.ID, e.PrevHash, prev)
		}
		link := chainHash(e)
		if !ed25519.Verify(pub, link, e.Signature) {
			return fmt.Errorf("entry %d (%s): signature invalid", i, e.ID)
		}
		prev = hex.EncodeToString(link)
	}
	return nil
}
