// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

// XMPP namespaces used by the livechat protocol surface.
const (
	nsMUC       = "http://jabber.org/protocol/muc"
	nsStanzaID  = "urn:xmpp:sid:0"
	nsReference = "urn:xmpp:reference:0"
	nsFasten    = "urn:xmpp:fasten:0"
	nsRetract   = "urn:xmpp:message-retract:0"
	nsHints     = "urn:xmpp:hints"
	nsPing      = "urn:xmpp:ping"
	nsOccupant  = "urn:xmpp:occupant-id:0"
	nsDelay     = "urn:xmpp:delay"
)
