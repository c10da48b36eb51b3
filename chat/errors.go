// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"errors"
	"fmt"
)

// Setup failure classes. Start wraps every error in exactly one of
// these (or in the auth package's sentinels), so callers can
// distinguish the failing stage with errors.Is.
var (
	// ErrRoomMetadata marks a failure to fetch the room page or to
	// extract the embedded room configuration from it.
	ErrRoomMetadata = errors.New("chat: room metadata unavailable")

	// ErrAuthorization marks a failure of the transport-credential
	// authorization endpoint.
	ErrAuthorization = errors.New("chat: transport authorization failed")

	// ErrEmojiCatalog marks a failure to fetch the room's custom
	// emoji catalog.
	ErrEmojiCatalog = errors.New("chat: emoji catalog unavailable")
)

// ErrNotReady is returned by commands issued outside the Ready state.
var ErrNotReady = errors.New("chat: session is not ready")

// StanzaError is a protocol-level error reported by the server inside
// a correlated reply.
type StanzaError struct {
	// Condition is the defined-condition element name, for example
	// "forbidden" or "item-not-found". May be empty.
	Condition string

	// Text is the human-readable text supplied by the server, or
	// "unknown error" when the reply carried none.
	Text string
}

func (e *StanzaError) Error() string {
	if e.Condition != "" {
		return fmt.Sprintf("chat: server rejected stanza: %s (%s)", e.Text, e.Condition)
	}
	return fmt.Sprintf("chat: server rejected stanza: %s", e.Text)
}
