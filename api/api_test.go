package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/halflife/audit"
	"github.com/jmcleod/halflife/daemon"
	"github.com/jmcleod/halflife/engine"
	"github.com/jmcleod/halflife/internal/clock"
	"github.com/jmcleod/halflife/registry"
	storagememory "github.com/jmcleod/halflife/storage/memory"
	"github.com/jmcleod/halflife/validator"
)

type testServer struct {
	server   *httptest.Server
	clock    *clock.Manual
	daemon   *daemon.Daemon
	registry *registry.Memory
	node     *validator.Node
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	auditLog, err := audit.NewLog(audit.NewMemoryStore(), key, "test-api")
	require.NoError(t, err)

	mc := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	reg := registry.NewMemory()
	store := storagememory.NewStore()

	nodes := make([]*validator.Node, 3)
	clients := make([]validator.Client, 3)
	for i := range nodes {
		nodes[i] = validator.NewNode(fmt.Sprintf("v%d", i+1), validator.WithNodeClock(mc))
		clients[i] = nodes[i]
	}
	network := validator.NewNetwork(clients)

	dm := daemon.New(reg, store, auditLog,
		daemon.WithClock(mc),
		daemon.WithRetryPolicy(2, time.Millisecond),
	)

	opts := []engine.Option{
		engine.WithClock(mc),
		engine.WithTimelockModulusBits(512),
		engine.WithAdversaryModel(1, 1.0),
		engine.WithDaemon(dm),
	}
	for _, n := range nodes {
		opts = append(opts, engine.WithRegistrar(n))
	}
	eng := engine.New(reg, store, network, auditLog, opts...)

	a := New(eng, WithValidatorNode(nodes[0]))
	ts := httptest.NewServer(a.Router())
	t.Cleanup(ts.Close)

	return &testServer{server: ts, clock: mc, daemon: dm, registry: reg, node: nodes[0]}
}

func (ts *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) fragmentSecret(t *testing.T, secret []byte) FragmentResponse {
	t.Helper()
	resp := ts.post(t, "/fragments", FragmentRequest{
		Secret:        base64.StdEncoding.EncodeToString(secret),
		Shares:        5,
		Threshold:     3,
		ExpirySeconds: 60,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[FragmentResponse](t, resp)
}

func TestFragmentSecret(t *testing.T) {
	ts := newTestServer(t)

	created := ts.fragmentSecret(t, []byte("the launch codes"))
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, 3, created.Threshold)
	assert.Equal(t, 5, created.Shares)
	assert.Len(t, created.FragmentIDs, 5)
}

func TestFragmentSecret_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.server.URL+"/fragments", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.post(t, "/fragments", FragmentRequest{Secret: "not base64!!", Shares: 5, Threshold: 3, ExpirySeconds: 60})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Threshold above share count.
	resp = ts.post(t, "/fragments", FragmentRequest{
		Secret:        base64.StdEncoding.EncodeToString([]byte("x")),
		Shares:        3,
		Threshold:     5,
		ExpirySeconds: 60,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decode[ErrorResponse](t, resp)
	assert.NotEmpty(t, errResp.Error)
}

func TestGetSession(t *testing.T) {
	ts := newTestServer(t)
	created := ts.fragmentSecret(t, []byte("the launch codes"))

	resp := ts.get(t, "/sessions/"+created.SessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := decode[SessionResponse](t, resp)
	assert.Equal(t, created.SessionID, session.SessionID)
	assert.Equal(t, created.FragmentIDs, session.FragmentIDs)

	resp = ts.get(t, "/sessions/no-such-session")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReconstruct(t *testing.T) {
	ts := newTestServer(t)
	secret := []byte("the launch codes")
	created := ts.fragmentSecret(t, secret)

	resp := ts.post(t, "/reconstruct", ReconstructRequest{
		SessionID:   created.SessionID,
		FragmentIDs: created.FragmentIDs[:3],
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[ReconstructResponse](t, resp)

	recovered, err := base64.StdEncoding.DecodeString(result.Secret)
	require.NoError(t, err)
	assert.Equal(t, secret, recovered)
	assert.Len(t, result.FragmentsUsed, 3)
}

func TestReconstruct_Insufficient(t *testing.T) {
	ts := newTestServer(t)
	created := ts.fragmentSecret(t, []byte("the launch codes"))

	resp := ts.post(t, "/reconstruct", ReconstructRequest{
		SessionID:   created.SessionID,
		FragmentIDs: created.FragmentIDs[:2],
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReconstruct_Expired(t *testing.T) {
	ts := newTestServer(t)
	created := ts.fragmentSecret(t, []byte("the launch codes"))

	ts.clock.Advance(2 * time.Minute)
	ts.daemon.Sweep(t.Context())

	resp := ts.post(t, "/reconstruct", ReconstructRequest{
		SessionID:   created.SessionID,
		FragmentIDs: created.FragmentIDs[:3],
	})
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestReconstruct_UnknownSession(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, "/reconstruct", ReconstructRequest{
		SessionID:   "no-such-session",
		FragmentIDs: []string{"frag-1"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestValidateEndpoint(t *testing.T) {
	ts := newTestServer(t)
	created := ts.fragmentSecret(t, []byte("the launch codes"))

	entry, err := ts.registry.Get(created.FragmentIDs[0])
	require.NoError(t, err)

	// Query the hosted validator through the HTTP transport adapter, the
	// same path a remote quorum peer would use.
	client := NewValidatorClient(ts.server.URL, nil)
	resp, err := client.Validate(t.Context(), validator.Request{
		FragmentID:    entry.Fragment.ID,
		ClaimedExpiry: entry.Fragment.ExpiresAt,
		ClaimedHash:   entry.Fragment.ValidationHash,
		Now:           ts.clock.Now(),
	})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, time.Minute, resp.Remaining)

	// A forged expiry claim is rejected.
	resp, err = client.Validate(t.Context(), validator.Request{
		FragmentID:    entry.Fragment.ID,
		ClaimedExpiry: entry.Fragment.ExpiresAt.Add(time.Hour),
		ClaimedHash:   entry.Fragment.ValidationHash,
		Now:           ts.clock.Now(),
	})
	require.NoError(t, err)
	assert.False(t, resp.Valid)
}

func TestOpenAPISpecServed(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.get(t, "/openapi.yaml")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/yaml", resp.Header.Get("Content-Type"))
}
