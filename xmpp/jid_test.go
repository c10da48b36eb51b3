// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package xmpp

import "testing"

func TestParseJID(t *testing.T) {
	tests := []struct {
		input    string
		local    string
		domain   string
		resource string
	}{
		{"alice@example.org/laptop", "alice", "example.org", "laptop"},
		{"room@conference.example.org/Nick Name", "room", "conference.example.org", "Nick Name"},
		{"anon.example.org", "", "anon.example.org", ""},
		{"room@conference.example.org", "room", "conference.example.org", ""},
	}
	for _, test := range tests {
		jid := ParseJID(test.input)
		if jid.Local != test.local || jid.Domain != test.domain || jid.Resource != test.resource {
			t.Errorf("ParseJID(%q) = %+v", test.input, jid)
		}
		if jid.String() != test.input {
			t.Errorf("round trip of %q = %q", test.input, jid.String())
		}
	}
}

func TestBare(t *testing.T) {
	if got := ParseJID("a@b/c").Bare(); got != "a@b" {
		t.Errorf("Bare = %q, want %q", got, "a@b")
	}
	if got := ParseJID("b/c").Bare(); got != "b" {
		t.Errorf("Bare without local = %q, want %q", got, "b")
	}
}
