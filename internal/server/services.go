package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"
)

// Built-in services a route can be bound to
const (
	ServiceEcho    = "echo"
	ServiceChannel = "channel"
)

// Methods understood by the built-in services
const (
	MethodEcho    = "echo"
	MethodPing    = "ping"
	MethodChannel = "$/channel"
)

// newService returns the handler for a named service. route is the name of
// the route the connection arrived on.
func newService(name, route string) (jsonrpc2.Handler, error) {
	switch name {
	case ServiceEcho:
		return jsonrpc2.HandlerWithError(echoService), nil
	case ServiceChannel:
		return jsonrpc2.HandlerWithError(channelService(route)), nil
	default:
		return nil, fmt.Errorf("unknown service %q", name)
	}
}

func echoService(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case MethodEcho:
		if req.Params == nil {
			return nil, nil
		}
		return json.RawMessage(*req.Params), nil
	case MethodPing:
		return "pong", nil
	default:
		return nil, methodNotFound(req.Method)
	}
}

func channelService(route string) func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (interface{}, error) {
	return func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
		switch req.Method {
		case MethodChannel:
			return route, nil
		case MethodPing:
			return "pong", nil
		default:
			return nil, methodNotFound(req.Method)
		}
	}
}

func methodNotFound(method string) *jsonrpc2.Error {
	return &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: fmt.Sprintf("method not found: %s", method),
	}
}
