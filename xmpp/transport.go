// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package xmpp

import "context"

// Transport is the streaming-protocol boundary the session core builds
// on. The core never performs stream negotiation, framing, or
// keep-alive at the transport level itself; it sends addressable
// stanzas and consumes an ordered stream of inbound stanzas.
//
//   - *WebsocketTransport: production implementation over the XMPP
//     WebSocket framing subprotocol (RFC 7395).
//   - Session tests use an in-memory fake.
//
// The transport applies no retry or reconnect policy. When the stream
// breaks, Stanzas is closed and the session surfaces the failure.
type Transport interface {
	// Start connects and negotiates the stream, returning the bound
	// session address. Must be called exactly once.
	Start(ctx context.Context) (JID, error)

	// Send transmits one stanza.
	Send(ctx context.Context, stanza *Stanza) error

	// Stanzas returns the inbound stream. Stanzas arrive in wire
	// order. The channel is closed when the stream ends, whether by
	// Stop or by a transport failure.
	Stanzas() <-chan *Stanza

	// Stop closes the stream and the underlying connection.
	// Idempotent.
	Stop() error
}
