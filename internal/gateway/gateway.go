// Package gateway defines the engine's view of the brokerage gateway
// connection: the request and event types that cross it, the transport
// primitives the engine consumes, and the request correlator that
// multiplexes many pending operations over the single session.
//
// Session management (connect, handshake, reconnect) lives outside this
// package; a Transport is handed in already dialed.
package gateway

import "context"

// Transport is the minimal surface the engine needs from an active
// gateway session: write one numbered request, tear down a market-data
// subscription, and expose the inbound event stream.
type Transport interface {
	// Send encodes and writes one numbered request. It returns
	// ErrNotConnected when no session is active.
	Send(ctx context.Context, req Request) error

	// CancelMarketData tears down the market-data subscription opened
	// under id. Cancelling an unknown id is a no-op.
	CancelMarketData(id int64) error

	// Connected reports whether a gateway session is currently active.
	Connected() bool

	// Events returns the inbound event stream. The channel is closed
	// when the session ends.
	Events() <-chan Event
}
