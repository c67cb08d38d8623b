package server

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/codefionn/wsrpc/internal/logger"
	"github.com/sourcegraph/jsonrpc2"
)

const clientIDLength = 8

// Client is one live JSON-RPC connection
type Client struct {
	ID    string
	Route string
	conn  *jsonrpc2.Conn
}

// NewClient wraps conn for the hub
func NewClient(route string, conn *jsonrpc2.Conn) *Client {
	id, _ := generateClientID()
	return &Client{ID: id, Route: route, conn: conn}
}

// ConnectionTracker is notified as clients come and go
type ConnectionTracker interface {
	ConnectionOpened(route string)
	ConnectionClosed(route string)
}

// Hub maintains the set of active clients
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	tracker    ConnectionTracker
}

// NewHub creates a new hub
func NewHub(tracker ConnectionTracker) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		tracker:    tracker,
	}
}

// Run starts the hub
func (h *Hub) Run() {
	logger.Info("Connection hub started")
	defer logger.Info("Connection hub stopped")
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.tracker != nil {
				h.tracker.ConnectionOpened(client.Route)
			}
			logger.Debug("Client registered: %s (%s)", client.ID, client.Route)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			delete(h.clients, client)
			h.mu.Unlock()
			if ok && h.tracker != nil {
				h.tracker.ConnectionClosed(client.Route)
			}
			logger.Debug("Client unregistered: %s", client.ID)

		case <-h.quit:
			return
		}
	}
}

// Register adds a client and unregisters it once its connection ends.
// It reports false when the hub is no longer running.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
	case <-h.quit:
		return false
	}

	go func() {
		select {
		case <-client.conn.DisconnectNotify():
			h.Unregister(client)
		case <-h.quit:
		}
	}()
	return true
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Shutdown stops the hub and closes every registered connection
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		if err := client.conn.Close(); err != nil && err != jsonrpc2.ErrClosed {
			logger.Debug("Closing client %s: %v", client.ID, err)
		}
		if h.tracker != nil {
			h.tracker.ConnectionClosed(client.Route)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// generateClientID generates a random client ID
func generateClientID() (string, error) {
	bytes := make([]byte, clientIDLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
