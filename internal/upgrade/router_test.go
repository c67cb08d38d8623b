package upgrade

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/codefionn/wsrpc/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandshaker hands out in-process transports instead of hijacking
type fakeHandshaker struct {
	mu      sync.Mutex
	calls   int
	pending bool
	fail    bool
	ends    []*transport.PipeTransport
}

func (f *fakeHandshaker) Handshake(w http.ResponseWriter, r *http.Request) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.fail {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, errors.New("bad handshake")
	}

	var server, client *transport.PipeTransport
	if f.pending {
		server, client = transport.PendingPipe()
	} else {
		server, client = transport.Pipe()
	}
	f.ends = append(f.ends, server, client)
	return server, nil
}

func (f *fakeHandshaker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeHandshaker) lastServerEnd() *transport.PipeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ends[len(f.ends)-2]
}

// fakeRecorder counts routing outcomes
type fakeRecorder struct {
	matched, unmatched, failed int
}

func (f *fakeRecorder) UpgradeMatched(routes int) { f.matched += routes }
func (f *fakeRecorder) UpgradeUnmatched()         { f.unmatched++ }
func (f *fakeRecorder) HandshakeFailed()          { f.failed++ }

func upgradeRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	return req
}

func counter() (OnOpen, func() int) {
	var mu sync.Mutex
	n := 0
	return func(transport.Transport, *http.Request) {
			mu.Lock()
			n++
			mu.Unlock()
		}, func() int {
			mu.Lock()
			defer mu.Unlock()
			return n
		}
}

func TestRouter_PathMatch(t *testing.T) {
	hs := &fakeHandshaker{}
	router := NewRouter(nil, WithHandshaker(hs))

	onOpen, calls := counter()
	router.Handle(Route{Path: "/jsonrpc"}, onOpen)

	router.ServeHTTP(httptest.NewRecorder(), upgradeRequest("/jsonrpc?token=abc"))
	assert.Equal(t, 1, hs.callCount())
	assert.Equal(t, 1, calls())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, upgradeRequest("/other"))
	assert.Equal(t, 1, hs.callCount(), "unmatched requests are not upgraded")
	assert.Equal(t, 1, calls())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_PredicateMatch(t *testing.T) {
	hs := &fakeHandshaker{}
	router := NewRouter(nil, WithHandshaker(hs))

	onOpen, calls := counter()
	router.Handle(Route{Matches: HeaderEquals("X-Channel", "terminal")}, onOpen)

	req := upgradeRequest("/anything/at/all")
	req.Header.Set("X-Channel", "terminal")
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 1, calls())

	router.ServeHTTP(httptest.NewRecorder(), upgradeRequest("/anything/at/all"))
	assert.Equal(t, 1, calls())
}

func TestRouter_OpenTransportRunsSynchronously(t *testing.T) {
	hs := &fakeHandshaker{}
	router := NewRouter(nil, WithHandshaker(hs))

	var state transport.State
	called := false
	router.Handle(Route{Path: "/jsonrpc"}, func(tr transport.Transport, r *http.Request) {
		called = true
		state = tr.State()
	})

	router.ServeHTTP(httptest.NewRecorder(), upgradeRequest("/jsonrpc"))
	assert.True(t, called, "handler must run before ServeHTTP returns")
	assert.Equal(t, transport.StateOpen, state)
}

func TestRouter_ConnectingTransportWaitsForOpen(t *testing.T) {
	hs := &fakeHandshaker{pending: true}
	router := NewRouter(nil, WithHandshaker(hs))

	var state transport.State
	onOpen, calls := counter()
	router.Handle(Route{Path: "/jsonrpc"}, func(tr transport.Transport, r *http.Request) {
		state = tr.State()
		onOpen(tr, r)
	})

	router.ServeHTTP(httptest.NewRecorder(), upgradeRequest("/jsonrpc"))
	assert.Equal(t, 0, calls(), "handler must not run before open")

	server := hs.lastServerEnd()
	server.Open()
	assert.Equal(t, 1, calls())
	assert.Equal(t, transport.StateOpen, state)

	server.Open()
	assert.Equal(t, 1, calls())
	require.NoError(t, server.Close())
}

func TestRouter_NeverOpenedNeverCalled(t *testing.T) {
	hs := &fakeHandshaker{pending: true}
	router := NewRouter(nil, WithHandshaker(hs))

	onOpen, calls := counter()
	router.Handle(Route{Path: "/jsonrpc"}, onOpen)

	assert.NotPanics(t, func() {
		router.ServeHTTP(httptest.NewRecorder(), upgradeRequest("/jsonrpc"))
	})
	require.NoError(t, hs.lastServerEnd().Close())
	assert.Equal(t, 0, calls())
}

func TestRouter_OverlapMatchAll(t *testing.T) {
	hs := &fakeHandshaker{}
	rec := &fakeRecorder{}
	router := NewRouter(nil, WithHandshaker(hs), WithRecorder(rec))

	var mu sync.Mutex
	var seen []transport.Transport
	record := func(tr transport.Transport, r *http.Request) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	}
	router.Handle(Route{Path: "/jsonrpc"}, record)
	router.Handle(Route{Matches: func(r *http.Request) bool { return true }}, record)

	router.ServeHTTP(httptest.NewRecorder(), upgradeRequest("/jsonrpc"))

	assert.Equal(t, 1, hs.callCount(), "one handshake per request")
	require.Len(t, seen, 2)
	assert.Same(t, seen[0], seen[1])
	assert.Equal(t, 2, rec.matched)
}

func TestRouter_OverlapMatchFirst(t *testing.T) {
	hs := &fakeHandshaker{}
	router := NewRouter(nil, WithHandshaker(hs), WithOverlapPolicy(MatchFirst))

	first, firstCalls := counter()
	second, secondCalls := counter()
	router.Handle(Route{Path: "/jsonrpc"}, first)
	router.Handle(Route{Path: "/jsonrpc"}, second)

	router.ServeHTTP(httptest.NewRecorder(), upgradeRequest("/jsonrpc"))
	assert.Equal(t, 1, firstCalls())
	assert.Equal(t, 0, secondCalls())
}

func TestRouter_HandshakeFailure(t *testing.T) {
	hs := &fakeHandshaker{fail: true}
	rec := &fakeRecorder{}
	router := NewRouter(nil, WithHandshaker(hs), WithRecorder(rec))

	onOpen, calls := counter()
	router.Handle(Route{Path: "/jsonrpc"}, onOpen)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, upgradeRequest("/jsonrpc"))

	assert.Equal(t, 0, calls())
	assert.Equal(t, 1, rec.failed)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_NonUpgradeGoesToFallback(t *testing.T) {
	hs := &fakeHandshaker{}
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := &fakeRecorder{}
	router := NewRouter(fallback, WithHandshaker(hs), WithRecorder(rec))

	onOpen, calls := counter()
	router.Handle(Route{Path: "/jsonrpc"}, onOpen)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jsonrpc", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, 0, hs.callCount())
	assert.Equal(t, 0, calls())
	assert.Equal(t, 0, rec.unmatched, "plain requests are not counted as upgrades")
}

func TestRouter_PanickingHandlerDoesNotAffectOthers(t *testing.T) {
	hs := &fakeHandshaker{}
	router := NewRouter(nil, WithHandshaker(hs))

	onOpen, calls := counter()
	router.Handle(Route{Path: "/jsonrpc"}, func(transport.Transport, *http.Request) {
		panic("handler bug")
	})
	router.Handle(Route{Path: "/jsonrpc"}, onOpen)

	assert.NotPanics(t, func() {
		router.ServeHTTP(httptest.NewRecorder(), upgradeRequest("/jsonrpc"))
	})
	assert.Equal(t, 1, calls())
}

func TestRouter_Routes(t *testing.T) {
	router := NewRouter(nil)
	router.Handle(Route{Path: "/a"}, func(transport.Transport, *http.Request) {})
	router.Handle(Route{Path: "/b"}, func(transport.Transport, *http.Request) {})

	routes := router.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "/a", routes[0].Path)
	assert.Equal(t, "/b", routes[1].Path)
}

func TestRouteMatch(t *testing.T) {
	tests := []struct {
		name   string
		route  Route
		target string
		want   bool
	}{
		{"exact path", Route{Path: "/jsonrpc"}, "/jsonrpc", true},
		{"query ignored", Route{Path: "/jsonrpc"}, "/jsonrpc?x=1", true},
		{"prefix is not a match", Route{Path: "/json"}, "/jsonrpc", false},
		{"empty route", Route{}, "/jsonrpc", false},
		{"predicate fallback", Route{Path: "/a", Matches: func(*http.Request) bool { return true }}, "/b", true},
		{"escaped letter is not decoded", Route{Path: "/jsonrpc"}, "/json%72pc", false},
		{"escaped slash is not a separator", Route{Path: "/a/b"}, "/a%2Fb", false},
		{"escaped path matches verbatim", Route{Path: "/a%2Fb"}, "/a%2Fb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.route.Match(upgradeRequest(tt.target)))
		})
	}
}

func TestRouteMatch_MalformedTarget(t *testing.T) {
	req := upgradeRequest("/jsonrpc")
	req.RequestURI = "%zz"

	assert.False(t, Route{Path: "/jsonrpc"}.Match(req))
	assert.True(t, Route{Path: "/jsonrpc", Matches: func(*http.Request) bool { return true }}.Match(req))
}

func TestParseOverlapPolicy(t *testing.T) {
	assert.Equal(t, MatchFirst, ParseOverlapPolicy("first"))
	assert.Equal(t, MatchAll, ParseOverlapPolicy("all"))
	assert.Equal(t, MatchAll, ParseOverlapPolicy(""))
	assert.Equal(t, "first", MatchFirst.String())
}
