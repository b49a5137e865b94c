package mcp

import (
	"context"
	"fmt"
)

// Transport abstracts the wire protocol between the client and a server.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close terminates the connection.
	Close() error

	// Call performs a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (*JSONRPCResponse, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Connected reports whether the transport is usable.
	Connected() bool
}

// NewTransport builds a transport from the server configuration.
func NewTransport(cfg *ServerConfig) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Transport {
	case TransportStdio:
		return NewStdioTransport(cfg), nil
	case TransportHTTP:
		return NewHTTPTransport(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}
