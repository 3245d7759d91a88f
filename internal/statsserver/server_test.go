package statsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namesync/namesync/internal/bridge"
	"github.com/namesync/namesync/internal/cache"
	"github.com/namesync/namesync/internal/content"
	"github.com/namesync/namesync/internal/ledger/ledgertest"
	"github.com/namesync/namesync/internal/queue"
	"github.com/namesync/namesync/internal/resolver"
)

// startTestServer wires a bridge and resolver over fakes and serves them
// on an ephemeral port.
func startTestServer(t *testing.T) (*Server, *bridge.Bridge) {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	l1 := ledgertest.NewL1()
	l2 := ledgertest.NewL2()
	cs := ledgertest.NewStore()
	cr := content.NewResolver(cs, nil, nil, logger)

	bcfg := bridge.DefaultConfig()
	bcfg.Logger = logger
	bcfg.PollInterval = time.Hour // quiet during the test
	bcfg.ApplyInterval = time.Hour
	b, err := bridge.New(l1, l2, cr, queue.New(), nil, nil, bcfg)
	require.NoError(t, err)

	rcfg := resolver.DefaultConfig()
	rcfg.Logger = logger
	r, err := resolver.New(l1, l2, cr, cache.New(), nil, rcfg)
	require.NoError(t, err)

	srv := New(b, r, &Config{Port: 0, Logger: logger})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	return srv, b
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/stats", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap StatsSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.False(t, snap.Time.IsZero())
	assert.Zero(t, snap.Bridge.TasksApplied)
	assert.Zero(t, snap.Resolver.TotalQueries)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStopEndpoint(t *testing.T) {
	srv, b := startTestServer(t)

	// The bridge is not running yet: stop reports false.
	resp, err := http.Post(fmt.Sprintf("http://%s/stop", srv.Addr()), "", nil)
	require.NoError(t, err)
	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.False(t, body["stopped"])

	// Start it and stop through the endpoint.
	require.NoError(t, b.Start(context.Background()))
	resp, err = http.Post(fmt.Sprintf("http://%s/stop", srv.Addr()), "", nil)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.True(t, body["stopped"])
}

func TestStopRequiresPost(t *testing.T) {
	srv, _ := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/stop", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
