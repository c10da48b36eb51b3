// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"reflect"
	"testing"

	"github.com/peertube-go/livechat/xmpp"
)

const mentionRoom = "room@muc.example.org"

func TestExtractMentions(t *testing.T) {
	nicknames := []string{"alice", "bob jones", "carol"}

	tests := []struct {
		name      string
		body      string
		wantBody  string
		wantCount int
	}{
		{"no at sign", "plain text", "plain text", 0},
		{"unknown nickname", "hi @mallory", "hi @mallory", 0},
		{"bare at sign", "send mail @ noon", "send mail @ noon", 0},
		{"simple mention", "hi @alice!", "hi @alice!", 0},
		{"exact token", "hi @alice", "hi alice", 1},
		{"encoded nickname", "ping @bob%20jones now", "ping bob jones now", 1},
		{"two mentions", "@alice meet @carol", "alice meet carol", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, mentions := extractMentions(tt.body, mentionRoom, nicknames)
			if body != tt.wantBody {
				t.Fatalf("body = %q, want %q", body, tt.wantBody)
			}
			if len(mentions) != tt.wantCount {
				t.Fatalf("got %d mentions, want %d: %v", len(mentions), tt.wantCount, mentions)
			}
			for _, mention := range mentions {
				if got := body[mention.Begin:mention.End]; got != mention.Nickname {
					t.Fatalf("offsets [%d:%d] cover %q, want %q", mention.Begin, mention.End, got, mention.Nickname)
				}
			}
		})
	}
}

func TestExtractMentionsRecords(t *testing.T) {
	body, mentions := extractMentions("ping @bob%20jones now", mentionRoom, []string{"bob jones"})
	want := []Mention{{
		URI:      "xmpp:" + mentionRoom + "/bob%20jones",
		Begin:    5,
		End:      14,
		Nickname: "bob jones",
	}}
	if !reflect.DeepEqual(mentions, want) {
		t.Fatalf("mentions = %+v, want %+v", mentions, want)
	}
	if body != "ping bob jones now" {
		t.Fatalf("body = %q", body)
	}
}

// A replacement that happens to produce another occupant's name must
// not be scanned again.
func TestExtractMentionsSinglePass(t *testing.T) {
	body, mentions := extractMentions("@%40carol hello", mentionRoom, []string{"@carol", "carol"})
	if body != "@carol hello" {
		t.Fatalf("body = %q", body)
	}
	if len(mentions) != 1 || mentions[0].Nickname != "@carol" {
		t.Fatalf("mentions = %+v, want the literal @carol occupant only", mentions)
	}
}

func TestParseMentions(t *testing.T) {
	msg := liveMessage("a1", "o1", "g1", "hi alice and bob")
	msg.Append(xmpp.New("reference", map[string]string{
		"xmlns": nsReference, "type": "mention",
		"begin": "3", "end": "8",
		"uri": "xmpp:" + mentionRoom + "/alice",
	}))
	msg.Append(xmpp.New("reference", map[string]string{
		"xmlns": nsReference, "type": "data",
		"begin": "0", "end": "2", "uri": "https://example.org",
	}))
	msg.Append(xmpp.New("reference", map[string]string{
		"xmlns": nsReference, "type": "mention",
		"begin": "x", "end": "y",
		"uri": "xmpp:" + mentionRoom + "/bob",
	}))

	mentions := parseMentions(msg)
	if len(mentions) != 1 {
		t.Fatalf("got %d mentions, want the one valid mention reference: %v", len(mentions), mentions)
	}
	got := mentions[0]
	if got.Begin != 3 || got.End != 8 || got.Nickname != "alice" {
		t.Fatalf("mention = %+v", got)
	}
}

func TestMentionNicknameDecoding(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"xmpp:room@muc.example.org/alice", "alice"},
		{"xmpp:room@muc.example.org/bob%20jones", "bob jones"},
		{"no-slash", "no-slash"},
		{"xmpp:room@muc.example.org/bad%zz", "bad%zz"},
	}
	for _, tt := range tests {
		if got := mentionNickname(tt.uri); got != tt.want {
			t.Fatalf("mentionNickname(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}
