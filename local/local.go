// Package local provides an in-process connection to the registry
// application.
//
// For a host compiled into the same binary as the application, this
// adapter wraps the application with lifecycle enforcement and
// capability discovery, with no serialization overhead.
package local

import (
	"context"

	"github.com/blockberries/poe"
	"github.com/blockberries/poe/app"
	"github.com/blockberries/poe/server"
	"github.com/blockberries/poe/store"
	"github.com/blockberries/poe/types"
)

// Compile-time interface check.
var _ poe.Connection = (*Connection)(nil)

// Connection wraps a local Lifecycle implementation with lifecycle
// enforcement and capability discovery.
type Connection struct {
	srv *server.Server
	// Closed with the connection when the connection opened it.
	kv store.KV
}

// NewConnection creates an in-process connection wrapping app.
func NewConnection(app poe.Lifecycle, opts ...server.Option) *Connection {
	return &Connection{srv: server.New(app, opts...)}
}

// Open creates the registry application over kv and connects to it.
// Closing the connection closes kv.
func Open(kv store.KV, appOpts []app.Option, srvOpts ...server.Option) *Connection {
	c := NewConnection(app.New(kv, appOpts...), srvOpts...)
	c.kv = kv
	return c
}

func (c *Connection) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	return c.srv.Handshake(ctx, req)
}

func (c *Connection) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	return c.srv.CheckTx(ctx, tx, mctx)
}

func (c *Connection) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	return c.srv.ExecuteBlock(ctx, block)
}

func (c *Connection) Commit(ctx context.Context) (types.CommitResult, error) {
	return c.srv.Commit(ctx)
}

func (c *Connection) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	return c.srv.Query(ctx, req)
}

func (c *Connection) Capabilities() types.Capabilities {
	return c.srv.Capabilities()
}

func (c *Connection) AsStateSync() poe.StateSync {
	return c.srv.AsStateSync()
}

func (c *Connection) AsSimulator() poe.Simulator {
	return c.srv.AsSimulator()
}

func (c *Connection) Close() error {
	if c.kv != nil {
		return c.kv.Close()
	}
	return nil
}

// Server returns the underlying server for advanced use cases.
func (c *Connection) Server() *server.Server {
	return c.srv
}
