// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat joins a PeerTube livechat room and exposes it as a
// stream of typed events plus a small command surface.
//
// [Session] is the entry point. It runs the whole startup sequence
// (room configuration extraction, token exchange via package auth,
// transport-credential authorization, emoji catalog, stream
// negotiation, room join) and then dispatches every inbound stanza to
// the user and message registries. Domain activity surfaces on a
// single ordered event channel:
//
//	session, err := chat.NewSession(chat.SessionConfig{Instance: "peertube.example.org", Room: roomID})
//	...
//	if err := session.Start(ctx); err != nil { ... }
//	for event := range session.Events() {
//	    switch e := event.(type) {
//	    case chat.MessageEvent:
//	        fmt.Println(e.Message.Body)
//	    }
//	}
//
// Commands ([Session.Message], [Session.Delete]) are correlated
// request/response pairs over the one-way stanza stream: each outbound
// stanza carries a generated identifier and the caller is suspended
// until the reply carrying that identifier arrives, the configured
// request timeout lapses, or ctx is done. A reply is resolved before
// it is handed to the registries, so the echo of your own message is
// both the reply to the Message call and a regular MessageEvent.
//
// One goroutine owns the inbound dispatch loop; stanzas are processed
// strictly in arrival order and events are emitted in the same order.
// The Events channel is buffered but not dropped: a consumer that
// stops draining it eventually stalls dispatch. The channel is never
// closed; stop consuming after Stop.
package chat
