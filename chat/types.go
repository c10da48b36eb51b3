// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"time"

	"github.com/peertube-go/livechat/xmpp"
)

// User is one room occupant as last observed on the wire.
type User struct {
	// JID is the occupant's real address. Rooms only disclose it to
	// moderators, so it is frequently the zero value.
	JID xmpp.JID

	// OccupantID is the room-scoped stable identifier. It survives
	// nickname changes and is the key authors are matched on.
	OccupantID string

	Nickname    string
	Affiliation string
	Role        string

	// Online is false once an unavailable presence has been seen for
	// this occupant.
	Online bool
}

// Mention is one user reference inside a message body. Begin and End
// are byte offsets into Body with Body[Begin:End] covering the
// mention text.
type Mention struct {
	// URI addresses the mentioned occupant, typically
	// "xmpp:room@domain/nickname".
	URI      string
	Begin    int
	End      int
	Nickname string
}

// Message is one room message.
type Message struct {
	// ID is the archive identifier stamped by the server. Server
	// notices carry none.
	ID string

	// AuthorID is the sender's occupant identifier.
	AuthorID string

	// OriginID is the client-generated identifier messages are keyed
	// and retracted by.
	OriginID string

	// Time is the delay timestamp for history replays and the local
	// receipt time for live messages.
	Time time.Time

	Body     string
	Mentions []Mention
}
