package validator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/halflife/internal/clock"
)

// stubClient answers with a fixed response or error.
type stubClient struct {
	resp Response
	err  error
}

func (c stubClient) Validate(ctx context.Context, req Request) (Response, error) {
	return c.resp, c.err
}

// hangingClient never answers until the context expires.
type hangingClient struct{}

func (hangingClient) Validate(ctx context.Context, req Request) (Response, error) {
	<-ctx.Done()
	return Response{}, ctx.Err()
}

func valid(remaining time.Duration) Client {
	return stubClient{resp: Response{Valid: true, Remaining: remaining}}
}

func invalid() Client {
	return stubClient{resp: Response{Valid: false}}
}

func down() Client {
	return stubClient{err: fmt.Errorf("connection refused")}
}

func TestNetwork_Quorum(t *testing.T) {
	assert.Equal(t, 2, NewNetwork(make([]Client, 3)).Quorum())
	assert.Equal(t, 3, NewNetwork(make([]Client, 5)).Quorum())
	assert.Equal(t, 4, NewNetwork(make([]Client, 6)).Quorum())
}

func TestCheckFreshness_AllValid(t *testing.T) {
	n := NewNetwork([]Client{valid(time.Minute), valid(30 * time.Second), valid(45 * time.Second)})

	d, err := n.CheckFreshness(t.Context(), Request{FragmentID: "frag-1"})
	require.NoError(t, err)
	assert.True(t, d.Valid)
	assert.GreaterOrEqual(t, d.ValidCount, n.Quorum())
	// Remaining is the most conservative answer seen.
	assert.LessOrEqual(t, d.Remaining, time.Minute)
}

func TestCheckFreshness_MajorityValidDespiteFailures(t *testing.T) {
	// 3 of 5 valid, 2 down: the decision stands.
	n := NewNetwork([]Client{
		valid(time.Minute), valid(time.Minute), valid(time.Minute),
		down(), down(),
	})

	d, err := n.CheckFreshness(t.Context(), Request{FragmentID: "frag-1"})
	require.NoError(t, err)
	assert.True(t, d.Valid)
	assert.Equal(t, 3, d.ValidCount)
}

func TestCheckFreshness_MajorityInvalid(t *testing.T) {
	n := NewNetwork([]Client{invalid(), invalid(), invalid(), valid(time.Minute), valid(time.Minute)})

	d, err := n.CheckFreshness(t.Context(), Request{FragmentID: "frag-1"})
	require.NoError(t, err)
	assert.False(t, d.Valid)
	assert.Equal(t, 3, d.Invalid)
}

func TestCheckFreshness_QuorumUnreachable(t *testing.T) {
	// 2 valid, 3 down out of 5: neither verdict reaches the majority.
	n := NewNetwork([]Client{valid(time.Minute), valid(time.Minute), down(), down(), down()})

	_, err := n.CheckFreshness(t.Context(), Request{FragmentID: "frag-1"})
	require.ErrorIs(t, err, ErrQuorumUnreachable)
}

func TestCheckFreshness_NoValidators(t *testing.T) {
	_, err := NewNetwork(nil).CheckFreshness(t.Context(), Request{FragmentID: "frag-1"})
	require.ErrorIs(t, err, ErrQuorumUnreachable)
}

func TestCheckFreshness_TimeoutCountsUnansweredAsUnreachable(t *testing.T) {
	n := NewNetwork(
		[]Client{valid(time.Minute), hangingClient{}, hangingClient{}},
		WithQueryTimeout(50*time.Millisecond),
	)

	d, err := n.CheckFreshness(t.Context(), Request{FragmentID: "frag-1"})
	require.ErrorIs(t, err, ErrQuorumUnreachable)
	assert.Equal(t, 2, d.Unreachable)
}

func TestCheckFreshness_EndToEndWithNodes(t *testing.T) {
	mc := clock.NewManual(nodeStart)
	f := testFragment(time.Minute)

	clients := make([]Client, 3)
	for i := range clients {
		node := NewNode(fmt.Sprintf("v%d", i+1), WithNodeClock(mc))
		node.Register(f)
		clients[i] = node
	}
	n := NewNetwork(clients)

	d, err := n.CheckFreshness(t.Context(), freshnessRequest(f, mc.Now()))
	require.NoError(t, err)
	assert.True(t, d.Valid)
	assert.Equal(t, time.Minute, d.Remaining)

	// Once the nodes see the fragment expire, quorum flips.
	mc.Advance(2 * time.Minute)
	d, err = n.CheckFreshness(t.Context(), freshnessRequest(f, mc.Now()))
	require.NoError(t, err)
	assert.False(t, d.Valid)
}
