// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

// Package xmpp provides the stanza tree type and the streaming
// transport the chat session core is built on.
//
// [Stanza] holds one protocol element as an opaque labeled tree,
// queryable by child name, attribute, and text content. Lookups on a
// nil stanza return zero values, so deep queries chain without
// intermediate checks:
//
//	originID := stanza.Child("apply-to").Attr("id")
//
// [Transport] is the boundary contract: connect/negotiate, send one
// addressable stanza, consume an ordered inbound stream, stop.
// [WebsocketTransport] implements it over the XMPP WebSocket framing
// subprotocol (RFC 7395), where each WebSocket text frame carries
// exactly one XML element; it negotiates SASL PLAIN or ANONYMOUS and
// binds a random resource. The transport deliberately carries no
// retry, reconnect, or keep-alive policy; liveness probing is the
// session's job, and a broken stream simply ends the stanza channel.
package xmpp
