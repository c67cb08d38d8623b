// Package server hosts the configured JSON-RPC channels on a single HTTP
// listener. Upgrade requests are dispatched by the upgrade router; every
// other request is served by the status and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/wsrpc/internal/config"
	"github.com/codefionn/wsrpc/internal/logger"
	"github.com/codefionn/wsrpc/internal/messaging"
	"github.com/codefionn/wsrpc/internal/metrics"
	"github.com/codefionn/wsrpc/internal/transport"
	"github.com/codefionn/wsrpc/internal/upgrade"
	"github.com/julienschmidt/httprouter"
	"github.com/sourcegraph/jsonrpc2"
	"golang.org/x/net/netutil"
)

const shutdownTimeout = 5 * time.Second

// Server represents the channel server
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	listener   net.Listener
	router     *upgrade.Router
	mux        *httprouter.Router
	hub        atomic.Pointer[Hub] // replaced on every Start
	metrics    *metrics.Metrics

	mu      sync.Mutex
	started bool
}

// NewServer creates a server with one upgrade route per configured route
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := metrics.New()
	s := &Server{
		cfg:     cfg,
		mux:     httprouter.New(),
		metrics: m,
	}
	s.hub.Store(NewHub(m))

	upgrader := transport.NewUpgrader(
		cfg.Socket.ReadBufferSize,
		cfg.Socket.WriteBufferSize,
		cfg.Socket.AllowedOrigins,
		TransportOptions(cfg.Socket),
	)
	s.router = upgrade.NewRouter(s.mux,
		upgrade.WithHandshaker(upgrader),
		upgrade.WithOverlapPolicy(upgrade.ParseOverlapPolicy(cfg.OverlapPolicy)),
		upgrade.WithRecorder(m),
	)

	for _, rc := range cfg.Routes {
		if err := s.addRoute(rc); err != nil {
			return nil, err
		}
	}

	s.setupRoutes()
	return s, nil
}

// TransportOptions converts socket settings into transport options
func TransportOptions(sc config.SocketConfig) transport.Options {
	opts := transport.DefaultOptions()
	opts.MaxMessageSize = sc.MaxMessageSize
	opts.SendQueueSize = sc.SendQueueSize
	if sc.PingIntervalSeconds > 0 {
		opts.PingInterval = sc.PingInterval()
	}
	if sc.PongTimeoutSeconds > 0 {
		opts.PongTimeout = sc.PongTimeout()
	}
	if sc.WriteTimeoutSeconds > 0 {
		opts.WriteTimeout = sc.WriteTimeout()
	}
	return opts
}

// RouteFor builds the upgrade route selecting requests for rc
func RouteFor(rc config.RouteConfig) upgrade.Route {
	route := upgrade.Route{Path: rc.Path}
	switch {
	case rc.Header == "":
	case rc.HeaderValue == "":
		route.Matches = headerPresent(rc.Header)
	default:
		route.Matches = upgrade.HeaderEquals(rc.Header, rc.HeaderValue)
	}
	return route
}

func headerPresent(header string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return r.Header.Get(header) != ""
	}
}

func (s *Server) addRoute(rc config.RouteConfig) error {
	handler, err := newService(rc.Service, rc.Name)
	if err != nil {
		return fmt.Errorf("route %q: %w", rc.Name, err)
	}

	name := rc.Name
	messaging.CreateServerConnection(s.router, RouteFor(rc), handler, func(conn *jsonrpc2.Conn) {
		client := NewClient(name, conn)
		if !s.hub.Load().Register(client) {
			_ = conn.Close()
			return
		}
		logger.Debug("JSON-RPC connection %s opened on route %s", client.ID, name)
	})
	return nil
}

func (s *Server) setupRoutes() {
	s.mux.GET("/health", s.handleHealth)
	s.mux.GET("/routes", s.handleRoutes)
	if s.cfg.MetricsPath != "" {
		s.mux.Handler(http.MethodGet, s.cfg.MetricsPath, s.metrics.Handler())
	}
	if s.cfg.Pprof {
		s.setupPprof()
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts listening and serving in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.StdLogger(logger.Global().WithPrefix("http"), slog.LevelWarn),
	}

	// A stopped hub cannot run again
	hub := NewHub(s.metrics)
	s.hub.Store(hub)
	go hub.Run()

	go func() {
		logger.Info("Listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error: %v", err)
		}
	}()

	s.started = true
	return nil
}

// Stop closes every connection and shuts the HTTP server down
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	logger.Info("Stopping server...")

	// Stop accepting first so no connection registers after the hub is gone
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.hub.Load().Shutdown()

	if err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Addr returns the bound listen address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Listen
}

// URL returns the WebSocket base URL of the server
func (s *Server) URL() string {
	return "ws://" + s.Addr()
}

// ClientCount returns the number of open JSON-RPC connections
func (s *Server) ClientCount() int {
	return s.hub.Load().ClientCount()
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, healthResponse{Status: "ok", Connections: s.ClientCount()})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.cfg.Routes)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write response: %v", err)
	}
}
