// Package messaging turns upgraded sockets into JSON-RPC 2.0 message
// connections.
//
// The entry points are layered the same way the connection is built:
//
//	OpenSocket             route -> open transport
//	OpenJSONRPCSocket      route -> Socket
//	CreateServerConnection route -> *jsonrpc2.Conn
package messaging

import (
	"context"
	"fmt"
	"net/http"

	"github.com/codefionn/wsrpc/internal/socket"
	"github.com/codefionn/wsrpc/internal/transport"
	"github.com/codefionn/wsrpc/internal/upgrade"
	"github.com/sourcegraph/jsonrpc2"
)

// NewConnection builds a JSON-RPC connection on top of sock. A nil handler
// answers every request with "method not found".
func NewConnection(ctx context.Context, sock socket.Socket, log Logger, handler jsonrpc2.Handler, opts ...jsonrpc2.ConnOpt) *jsonrpc2.Conn {
	if handler == nil {
		handler = MethodNotFoundHandler{}
	}
	opts = append([]jsonrpc2.ConnOpt{jsonrpc2.SetLogger(printfLogger{log: log})}, opts...)
	return jsonrpc2.NewConn(ctx, newSocketStream(sock, log), handler, opts...)
}

// OpenSocket registers onOpen for upgrades selected by route
func OpenSocket(router *upgrade.Router, route upgrade.Route, onOpen upgrade.OnOpen) {
	router.Handle(route, onOpen)
}

// OpenJSONRPCSocket registers onOpen to receive the socket abstraction of
// every upgrade selected by route
func OpenJSONRPCSocket(router *upgrade.Router, route upgrade.Route, log socket.ErrorLogger, onOpen func(sock socket.Socket, r *http.Request)) {
	OpenSocket(router, route, func(t transport.Transport, r *http.Request) {
		onOpen(socket.FromTransport(t, log), r)
	})
}

// CreateServerConnection registers onConnect to receive a JSON-RPC
// connection for every upgrade selected by route. Requests on the
// connection are served by handler.
func CreateServerConnection(router *upgrade.Router, route upgrade.Route, handler jsonrpc2.Handler, onConnect func(conn *jsonrpc2.Conn)) {
	log := NewConsoleLogger()
	OpenJSONRPCSocket(router, route, log, func(sock socket.Socket, r *http.Request) {
		onConnect(NewConnection(context.Background(), sock, log, handler))
	})
}

// MethodNotFoundHandler rejects every request
type MethodNotFoundHandler struct{}

// Handle replies with CodeMethodNotFound to requests and ignores notifications
func (MethodNotFoundHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		return
	}
	err := &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: fmt.Sprintf("method not found: %s", req.Method),
	}
	_ = conn.ReplyWithError(ctx, req.ID, err)
}
