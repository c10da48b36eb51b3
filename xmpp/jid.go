// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package xmpp

import "strings"

// JID is a Jabber address: local@domain/resource. In MUC rooms the
// resource carries the occupant's nickname, so the session core only
// ever needs splitting, not full JID normalization.
type JID struct {
	Local    string
	Domain   string
	Resource string
}

// ParseJID splits an address into its three parts. Local and Resource
// may be empty ("conference.example.org", "room@conference/nick").
func ParseJID(address string) JID {
	var jid JID
	rest := address
	if slash := strings.Index(rest, "/"); slash >= 0 {
		jid.Resource = rest[slash+1:]
		rest = rest[:slash]
	}
	if at := strings.Index(rest, "@"); at >= 0 {
		jid.Local = rest[:at]
		rest = rest[at+1:]
	}
	jid.Domain = rest
	return jid
}

// Bare returns local@domain without the resource.
func (j JID) Bare() string {
	if j.Local == "" {
		return j.Domain
	}
	return j.Local + "@" + j.Domain
}

// String returns the full address.
func (j JID) String() string {
	if j.Resource == "" {
		return j.Bare()
	}
	return j.Bare() + "/" + j.Resource
}

// IsZero reports whether the JID is empty.
func (j JID) IsZero() bool {
	return j.Local == "" && j.Domain == "" && j.Resource == ""
}
