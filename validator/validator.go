// Package validator implements the validation network: a set of nodes,
// each holding fragment metadata (never ciphertext), that answer whether
// a fragment is still fresh, and a quorum client that fans a freshness
// query out to all nodes and resolves disagreement conservatively.
package validator

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/jmcleod/halflife/fragment"
	"github.com/jmcleod/halflife/internal/clock"
)

// Request is a freshness query for one fragment.
type Request struct {
	FragmentID    string    `json:"fragment_id"`
	ClaimedExpiry time.Time `json:"claimed_expiry"`
	ClaimedHash   []byte    `json:"claimed_hash"`
	Now           time.Time `json:"current_time"`
}

// Response is a single validator's answer.
type Response struct {
	Valid     bool          `json:"valid"`
	Remaining time.Duration `json:"remaining_time"`
}

// Client is the validator RPC contract. In-process nodes implement it
// directly; remote validators are reached through a transport adapter
// that satisfies the same interface.
type Client interface {
	Validate(ctx context.Context, req Request) (Response, error)
}

// Registrar receives fragment metadata registrations and retractions.
// Node implements it; remote validator deployments provide their own
// registration path.
type Registrar interface {
	Register(f *fragment.Fragment)
	Forget(fragmentID string)
}

// record is the metadata a node holds per fragment.
type record struct {
	sessionID string
	index     int
	expiresAt time.Time
}

// Node is one validator. It answers freshness queries from locally held
// metadata and its own clock, so a forged expiry claim fails the hash
// check and a skewed caller clock cannot extend a fragment's life.
type Node struct {
	id    string
	clock clock.Clock

	mu      sync.RWMutex
	records map[string]record
}

var _ Client = (*Node)(nil)

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithNodeClock sets the node's time source.
func WithNodeClock(c clock.Clock) NodeOption {
	return func(n *Node) {
		n.clock = c
	}
}

// NewNode creates a validator node with the given identity.
func NewNode(id string, opts ...NodeOption) *Node {
	n := &Node{
		id:      id,
		clock:   clock.System{},
		records: make(map[string]record),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ID returns the node's identity.
func (n *Node) ID() string {
	return n.id
}

// Register stores the metadata needed to vouch for a fragment.
func (n *Node) Register(f *fragment.Fragment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records[f.ID] = record{
		sessionID: f.SessionID,
		index:     f.Index,
		expiresAt: f.ExpiresAt,
	}
}

// Forget drops a fragment's metadata, typically after purge.
func (n *Node) Forget(fragmentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.records, fragmentID)
}

// Validate answers a freshness query. A fragment the node has no record
// of, a claim that does not match the locally recomputed hash, and an
// expired fragment all yield an invalid answer rather than an error.
func (n *Node) Validate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	n.mu.RLock()
	rec, ok := n.records[req.FragmentID]
	n.mu.RUnlock()
	if !ok {
		return Response{Valid: false}, nil
	}

	if !req.ClaimedExpiry.Equal(rec.expiresAt) {
		return Response{Valid: false}, nil
	}
	expected := fragment.ValidationHash(req.FragmentID, rec.sessionID, rec.index, rec.expiresAt)
	if subtle.ConstantTimeCompare(expected, req.ClaimedHash) != 1 {
		return Response{Valid: false}, nil
	}

	now := n.clock.Now()
	if !now.Before(rec.expiresAt) {
		return Response{Valid: false}, nil
	}
	return Response{Valid: true, Remaining: rec.expiresAt.Sub(now)}, nil
}
