// Package upgrade multiplexes WebSocket upgrade requests arriving on one HTTP
// listener onto independently registered handlers.
//
// A Router keeps an ordered list of registrations. For every upgrade request
// it evaluates each registration's Route, performs at most one handshake, and
// hands the resulting transport to every matching handler once the transport
// is open. Requests that are not upgrades, or that no route selects, fall
// through to the fallback handler.
//
// Usage
//
//	router := upgrade.NewRouter(mux)
//	router.Handle(upgrade.Route{Path: "/jsonrpc"}, func(t transport.Transport, r *http.Request) {
//	    ...
//	})
//	http.ListenAndServe(":8936", router)
package upgrade

import (
	"net/http"
	"sync"

	"github.com/codefionn/wsrpc/internal/logger"
	"github.com/codefionn/wsrpc/internal/transport"
	"golang.org/x/net/http/httpguts"
)

// OnOpen receives an open transport together with the request that created it
type OnOpen func(t transport.Transport, r *http.Request)

// Handshaker completes the protocol handshake for a routed request. On
// failure it has already answered the request.
type Handshaker interface {
	Handshake(w http.ResponseWriter, r *http.Request) (transport.Transport, error)
}

// Recorder observes routing outcomes
type Recorder interface {
	UpgradeMatched(routes int)
	UpgradeUnmatched()
	HandshakeFailed()
}

// OverlapPolicy decides what happens when several routes select one request
type OverlapPolicy int

const (
	// MatchAll hands the transport to every matching registration
	MatchAll OverlapPolicy = iota
	// MatchFirst hands the transport only to the earliest registration
	MatchFirst
)

// String returns string representation of the policy
func (p OverlapPolicy) String() string {
	switch p {
	case MatchAll:
		return "all"
	case MatchFirst:
		return "first"
	default:
		return "unknown"
	}
}

// ParseOverlapPolicy parses "all" or "first", defaulting to MatchAll
func ParseOverlapPolicy(s string) OverlapPolicy {
	if s == "first" {
		return MatchFirst
	}
	return MatchAll
}

type registration struct {
	route  Route
	onOpen OnOpen
}

// Router is an http.Handler that dispatches upgrade requests
type Router struct {
	mu       sync.RWMutex
	routes   []registration
	fallback http.Handler

	handshaker Handshaker
	policy     OverlapPolicy
	recorder   Recorder
	log        *logger.Logger
}

// Option configures a Router
type Option func(*Router)

// WithHandshaker replaces the default WebSocket handshaker
func WithHandshaker(h Handshaker) Option {
	return func(r *Router) { r.handshaker = h }
}

// WithOverlapPolicy sets the overlap policy
func WithOverlapPolicy(p OverlapPolicy) Option {
	return func(r *Router) { r.policy = p }
}

// WithRecorder sets the routing outcome recorder
func WithRecorder(rec Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// NewRouter creates a router. fallback serves everything that is not a
// matched upgrade request; a nil fallback answers 404.
func NewRouter(fallback http.Handler, opts ...Option) *Router {
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	r := &Router{
		fallback:   fallback,
		handshaker: transport.NewUpgrader(1024, 1024, nil, transport.DefaultOptions()),
		policy:     MatchAll,
		recorder:   nopRecorder{},
		log:        logger.Global().WithPrefix("upgrade"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle appends a registration. Registrations are evaluated in the order
// they were added.
func (r *Router) Handle(route Route, onOpen OnOpen) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, registration{route: route, onOpen: onOpen})
}

// Routes returns the registered routes in evaluation order
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]Route, 0, len(r.routes))
	for _, reg := range r.routes {
		routes = append(routes, reg.route)
	}
	return routes
}

// ServeHTTP routes upgrade requests and forwards everything else
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !isUpgrade(req) {
		r.fallback.ServeHTTP(w, req)
		return
	}

	matched := r.match(req)
	if len(matched) == 0 {
		r.recorder.UpgradeUnmatched()
		r.fallback.ServeHTTP(w, req)
		return
	}
	r.recorder.UpgradeMatched(len(matched))

	t, err := r.handshaker.Handshake(w, req)
	if err != nil {
		r.recorder.HandshakeFailed()
		return
	}

	t.WhenOpen(func() {
		if h, ok := t.(transport.Holder); ok {
			release := h.Hold()
			defer release()
		}
		for _, reg := range matched {
			r.invoke(reg, t, req)
		}
	})
}

func (r *Router) match(req *http.Request) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []registration
	for _, reg := range r.routes {
		if !reg.route.Match(req) {
			continue
		}
		matched = append(matched, reg)
		if r.policy == MatchFirst {
			break
		}
	}
	return matched
}

// invoke runs one handler. A panic is logged and does not reach the other
// handlers sharing the transport.
func (r *Router) invoke(reg registration, t transport.Transport, req *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Upgrade handler for %s panicked: %v", req.URL.Path, p)
		}
	}()
	reg.onOpen(t, req)
}

func isUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") != "" &&
		httpguts.HeaderValuesContainsToken(r.Header["Connection"], "upgrade")
}

type nopRecorder struct{}

func (nopRecorder) UpgradeMatched(int) {}
func (nopRecorder) UpgradeUnmatched()  {}
func (nopRecorder) HandshakeFailed()   {}
