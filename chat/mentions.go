// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"net/url"
	"strings"
	"unicode"
)

// extractMentions scans an outgoing body for "@nickname" tokens and
// resolves them against the known occupants. It returns the final body
// with every matched token replaced by the plain nickname, plus the
// mention records with offsets computed against that final body. The
// scan runs over the original text only, so a nickname inserted by one
// replacement can never trigger another.
//
// A token runs from an "@" to the next whitespace. It matches when its
// percent-decoded remainder equals a known nickname, which accepts
// both the raw form ("@alice") and the URL-encoded form a web client
// produces for nicknames with spaces ("@alice%20b").
func extractMentions(body, roomJID string, nicknames []string) (string, []Mention) {
	known := make(map[string]bool, len(nicknames))
	for _, nickname := range nicknames {
		known[nickname] = true
	}

	var (
		final    strings.Builder
		mentions []Mention
		copied   int
	)
	for i := 0; i < len(body); {
		at := strings.IndexByte(body[i:], '@')
		if at < 0 {
			break
		}
		start := i + at
		token := tokenAt(body, start)
		i = start + len(token)

		decoded, err := url.PathUnescape(token[1:])
		if err != nil || !known[decoded] {
			continue
		}

		final.WriteString(body[copied:start])
		begin := final.Len()
		final.WriteString(decoded)
		copied = start + len(token)
		mentions = append(mentions, Mention{
			URI:      "xmpp:" + roomJID + "/" + token[1:],
			Begin:    begin,
			End:      begin + len(decoded),
			Nickname: decoded,
		})
	}
	final.WriteString(body[copied:])
	return final.String(), mentions
}

// tokenAt returns the whitespace-delimited token starting at offset,
// including its leading "@".
func tokenAt(body string, offset int) string {
	rest := body[offset:]
	if end := strings.IndexFunc(rest, unicode.IsSpace); end >= 0 {
		return rest[:end]
	}
	return rest
}
