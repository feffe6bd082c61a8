package validator

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrQuorumUnreachable indicates too few validators answered for either
// verdict to reach quorum. This is a network-level condition; callers may
// retry with backoff.
var ErrQuorumUnreachable = errors.New("validation quorum unreachable")

// DefaultQueryTimeout bounds a freshness fan-out.
const DefaultQueryTimeout = 5 * time.Second

// Decision is the outcome of a quorum freshness check.
type Decision struct {
	Valid       bool
	ValidCount  int
	Invalid     int
	Unreachable int
	// Remaining is the smallest remaining lifetime reported by a valid
	// response; zero unless Valid.
	Remaining time.Duration
}

// Network fans freshness queries out to a fixed set of validators and
// requires a majority of valid answers before vouching for a fragment.
// It tolerates f crashed validators out of m provided m > 2f.
type Network struct {
	clients []Client
	timeout time.Duration
	logger  *slog.Logger
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithQueryTimeout bounds each fan-out. Default: DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) NetworkOption {
	return func(n *Network) {
		n.timeout = d
	}
}

// WithLogger sets the structured logger for quorum decisions.
func WithLogger(logger *slog.Logger) NetworkOption {
	return func(n *Network) {
		n.logger = logger.With("component", "validator-network")
	}
}

// NewNetwork creates a quorum client over the given validators.
func NewNetwork(clients []Client, opts ...NetworkOption) *Network {
	n := &Network{
		clients: clients,
		timeout: DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Size returns the number of validators.
func (n *Network) Size() int {
	return len(n.clients)
}

// Quorum returns the majority threshold.
func (n *Network) Quorum() int {
	return len(n.clients)/2 + 1
}

// CheckFreshness queries every validator in parallel and returns as soon
// as either verdict reaches quorum. Without quorum for either verdict
// within the timeout it fails with ErrQuorumUnreachable; disagreement at
// quorum resolves to whichever verdict got there, and a fragment that
// cannot gather a valid-majority is treated as invalid by the caller.
func (n *Network) CheckFreshness(ctx context.Context, req Request) (Decision, error) {
	if len(n.clients) == 0 {
		return Decision{}, ErrQuorumUnreachable
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	type reply struct {
		resp Response
		err  error
	}
	replies := make(chan reply, len(n.clients))
	for _, c := range n.clients {
		go func(c Client) {
			resp, err := c.Validate(ctx, req)
			replies <- reply{resp: resp, err: err}
		}(c)
	}

	quorum := n.Quorum()
	var d Decision
	remaining := time.Duration(0)
	for answered := 0; answered < len(n.clients); answered++ {
		select {
		case r := <-replies:
			switch {
			case r.err != nil:
				d.Unreachable++
			case r.resp.Valid:
				d.ValidCount++
				if remaining == 0 || r.resp.Remaining < remaining {
					remaining = r.resp.Remaining
				}
			default:
				d.Invalid++
			}
		case <-ctx.Done():
			d.Unreachable += len(n.clients) - answered
			answered = len(n.clients)
		}

		if d.ValidCount >= quorum {
			d.Valid = true
			d.Remaining = remaining
			n.logDecision(req.FragmentID, d)
			return d, nil
		}
		if d.Invalid >= quorum {
			n.logDecision(req.FragmentID, d)
			return d, nil
		}
	}

	// Neither verdict reached quorum: too many validators unreachable.
	n.logDecision(req.FragmentID, d)
	return d, ErrQuorumUnreachable
}

func (n *Network) logDecision(fragmentID string, d Decision) {
	if n.logger == nil {
		return
	}
	n.logger.Info("freshness decision",
		slog.String("fragment_id", fragmentID),
		slog.Bool("valid", d.Valid),
		slog.Int("valid_count", d.ValidCount),
		slog.Int("invalid_count", d.Invalid),
		slog.Int("unreachable", d.Unreachable),
		slog.Int("quorum", n.Quorum()),
	)
}
