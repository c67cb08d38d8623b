package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Upgrader completes WebSocket handshakes for requests that were already
// routed by the caller. It never accepts connections on its own.
type Upgrader struct {
	upgrader websocket.Upgrader
	opts     Options
}

// NewUpgrader creates an upgrader with compression disabled. An empty
// allowedOrigins list accepts every origin; "*" does the same explicitly.
func NewUpgrader(readBufferSize, writeBufferSize int, allowedOrigins []string, opts Options) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:    readBufferSize,
			WriteBufferSize:   writeBufferSize,
			EnableCompression: false,
			CheckOrigin:       originChecker(allowedOrigins),
		},
		opts: opts,
	}
}

// Handshake upgrades the request and returns an open transport. On failure
// the HTTP rejection has already been written to w.
func (u *Upgrader) Handshake(w http.ResponseWriter, r *http.Request) (Transport, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket handshake failed: %w", err)
	}

	t := NewWSTransport(conn, u.opts)
	t.Open()
	return t, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}

	hosts := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		hosts[strings.ToLower(strings.TrimSuffix(origin, "/"))] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return hosts[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}
