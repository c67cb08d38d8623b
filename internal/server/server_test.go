package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/codefionn/wsrpc/internal/config"
	"github.com/codefionn/wsrpc/internal/messaging"
	"github.com/codefionn/wsrpc/internal/socket"
	"github.com/codefionn/wsrpc/internal/transport"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.Routes = []config.RouteConfig{
		{Name: "jsonrpc", Path: "/jsonrpc", Service: ServiceEcho},
		{Name: "terminal", Header: "X-Channel", HeaderValue: "terminal", Service: ServiceChannel},
	}
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
	})
	return srv
}

func dial(t *testing.T, url string, header http.Header) (*jsonrpc2.Conn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := transport.Dial(ctx, url, header, transport.DefaultOptions())
	if err != nil {
		return nil, err
	}
	log := messaging.NewConsoleLogger()
	conn := messaging.NewConnection(context.Background(), socket.FromTransport(tr, log), log, nil)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, nil
}

func call(t *testing.T, conn *jsonrpc2.Conn, method string, params, result interface{}) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return conn.Call(ctx, method, params, result)
}

func TestServer_PathRoute(t *testing.T) {
	srv := startServer(t, testConfig())

	conn, err := dial(t, srv.URL()+"/jsonrpc", nil)
	require.NoError(t, err)

	var pong string
	require.NoError(t, call(t, conn, MethodPing, nil, &pong))
	assert.Equal(t, "pong", pong)

	var echoed map[string]int
	require.NoError(t, call(t, conn, MethodEcho, map[string]int{"n": 7}, &echoed))
	assert.Equal(t, map[string]int{"n": 7}, echoed)

	err = call(t, conn, "unknown", nil, nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)
}

func TestServer_QueryStringIgnored(t *testing.T) {
	srv := startServer(t, testConfig())

	conn, err := dial(t, srv.URL()+"/jsonrpc?session=1", nil)
	require.NoError(t, err)

	var pong string
	require.NoError(t, call(t, conn, MethodPing, nil, &pong))
	assert.Equal(t, "pong", pong)
}

func TestServer_UnmatchedPathRejected(t *testing.T) {
	srv := startServer(t, testConfig())

	_, err := dial(t, srv.URL()+"/other", nil)
	require.Error(t, err)
	assert.Equal(t, 0, srv.ClientCount())
}

func TestServer_HeaderRoute(t *testing.T) {
	srv := startServer(t, testConfig())

	header := http.Header{}
	header.Set("X-Channel", "terminal")
	conn, err := dial(t, srv.URL()+"/anything", header)
	require.NoError(t, err)

	var route string
	require.NoError(t, call(t, conn, MethodChannel, nil, &route))
	assert.Equal(t, "terminal", route)
}

func TestServer_TracksConnections(t *testing.T) {
	srv := startServer(t, testConfig())

	conn, err := dial(t, srv.URL()+"/jsonrpc", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return srv.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Health(t *testing.T) {
	srv := startServer(t, testConfig())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func TestServer_RoutesAndMetrics(t *testing.T) {
	srv := startServer(t, testConfig())

	resp, err := http.Get("http://" + srv.Addr() + "/routes")
	require.NoError(t, err)
	var routes []config.RouteConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&routes))
	resp.Body.Close()
	assert.Len(t, routes, 2)

	_, err = dial(t, srv.URL()+"/nowhere", nil)
	require.Error(t, err)

	resp, err = http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `wsrpc_upgrades_total{result="unmatched"} 1`), string(body))
}

func TestServer_OverlappingRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.Routes = []config.RouteConfig{
		{Name: "first", Path: "/shared", Service: ServiceChannel},
		{Name: "second", Path: "/shared", Service: ServiceChannel},
	}
	srv := startServer(t, cfg)

	_, err := dial(t, srv.URL()+"/shared", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_OverlapFirst(t *testing.T) {
	cfg := testConfig()
	cfg.OverlapPolicy = "first"
	cfg.Routes = []config.RouteConfig{
		{Name: "first", Path: "/shared", Service: ServiceChannel},
		{Name: "second", Path: "/shared", Service: ServiceChannel},
	}
	srv := startServer(t, cfg)

	conn, err := dial(t, srv.URL()+"/shared", nil)
	require.NoError(t, err)

	var route string
	require.NoError(t, call(t, conn, MethodChannel, nil, &route))
	assert.Equal(t, "first", route)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_UnknownService(t *testing.T) {
	cfg := testConfig()
	cfg.Routes = []config.RouteConfig{{Name: "x", Path: "/x", Service: "nope"}}

	_, err := NewServer(cfg)
	require.Error(t, err)
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		name   string
		rc     config.RouteConfig
		path   string
		header string
		want   bool
	}{
		{name: "path", rc: config.RouteConfig{Path: "/a"}, path: "/a", want: true},
		{name: "path mismatch", rc: config.RouteConfig{Path: "/a"}, path: "/b", want: false},
		{name: "header value", rc: config.RouteConfig{Header: "X-Channel", HeaderValue: "t"}, path: "/b", header: "t", want: true},
		{name: "header wrong value", rc: config.RouteConfig{Header: "X-Channel", HeaderValue: "t"}, path: "/b", header: "u", want: false},
		{name: "header present", rc: config.RouteConfig{Header: "X-Channel"}, path: "/b", header: "any", want: true},
		{name: "header absent", rc: config.RouteConfig{Header: "X-Channel"}, path: "/b", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "http://localhost"+tt.path, nil)
			require.NoError(t, err)
			req.RequestURI = tt.path
			if tt.header != "" {
				req.Header.Set("X-Channel", tt.header)
			}
			assert.Equal(t, tt.want, RouteFor(tt.rc).Match(req))
		})
	}
}

func TestTransportOptions(t *testing.T) {
	sc := config.DefaultSocketConfig()
	sc.PingIntervalSeconds = 3
	sc.MaxMessageSize = 512

	opts := TransportOptions(sc)
	assert.Equal(t, 3*time.Second, opts.PingInterval)
	assert.Equal(t, int64(512), opts.MaxMessageSize)
	assert.Equal(t, sc.SendQueueSize, opts.SendQueueSize)
}

func TestServer_Pprof(t *testing.T) {
	cfg := testConfig()
	cfg.Pprof = true
	srv := startServer(t, cfg)

	resp, err := http.Get("http://" + srv.Addr() + "/debug/pprof/profiles/goroutine?debug=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_PprofDisabledByDefault(t *testing.T) {
	srv := startServer(t, testConfig())

	resp, err := http.Get("http://" + srv.Addr() + "/debug/pprof/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Restart(t *testing.T) {
	srv, err := NewServer(testConfig())
	require.NoError(t, err)

	for round := 0; round < 2; round++ {
		require.NoError(t, srv.Start(), "round %d", round)

		conn, err := dial(t, srv.URL()+"/jsonrpc", nil)
		require.NoError(t, err, "round %d", round)

		var pong string
		require.NoError(t, call(t, conn, MethodPing, nil, &pong), "round %d", round)
		assert.Equal(t, "pong", pong)
		require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, srv.Stop(), "round %d", round)
		assert.Equal(t, 0, srv.ClientCount())
	}
}
