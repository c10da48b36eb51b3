// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/peertube-go/livechat/lib/clock"
	"github.com/peertube-go/livechat/xmpp"
)

// messageKind is the classification a message stanza resolves to.
// Exactly one kind applies per stanza, decided in the order the
// constants are declared: retraction first, then the server-notice
// check, then field validation, then the live/replay split.
type messageKind int

const (
	kindInvalid messageKind = iota
	kindRemove
	kindServer
	kindOld
	kindNew
)

// parsedMessage is the pure outcome of classifying a single stanza.
// Message is set for kindOld and kindNew. Target is the retracted
// origin id for kindRemove. Banner is set for kindServer.
type parsedMessage struct {
	Kind    messageKind
	Message *Message
	Target  string
	Banner  string
}

// messageRegistry keys messages by origin id and mirrors them into an
// append-ordered history list. The server banner is the text of the
// latest server notice.
type messageRegistry struct {
	messages *store[string, *Message]
	emit     func(Event)
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.RWMutex
	history []*Message
	banner  string
}

func newMessageRegistry(emit func(Event), clk clock.Clock, logger *slog.Logger) *messageRegistry {
	return &messageRegistry{
		messages: newStore[string, *Message](),
		emit:     emit,
		clock:    clk,
		logger:   logger,
	}
}

// Get looks up a message by origin id.
func (r *messageRegistry) Get(originID string) (*Message, bool) {
	return r.messages.get(originID)
}

// History returns a snapshot of all stored messages in arrival order.
func (r *messageRegistry) History() []*Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Message, len(r.history))
	copy(out, r.history)
	return out
}

// Banner returns the latest server notice text, or "".
func (r *messageRegistry) Banner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.banner
}

// parse classifies a message stanza without touching registry state.
//
// A retraction directive wins over everything else; one without a
// usable target id is invalid. A stanza with a body but no archive id
// is a server notice. Anything else must carry archive id, author
// occupant id, origin id, and a non-empty body to survive validation.
// Valid messages split on the delay element: present means an archive
// replay stamped with the delay timestamp, absent means live, stamped
// with the receipt time.
func (r *messageRegistry) parse(msg *xmpp.Stanza) parsedMessage {
	if applyTo := msg.Child("apply-to"); applyTo.Attr("xmlns") == nsFasten {
		if retract := applyTo.Child("retract"); retract != nil && retract.Attr("xmlns") == nsRetract {
			target := applyTo.Attr("id")
			if target == "" {
				return parsedMessage{Kind: kindInvalid}
			}
			return parsedMessage{Kind: kindRemove, Target: target}
		}
	}

	var (
		archiveID = msg.Child("stanza-id").Attr("id")
		authorID  = msg.Child("occupant-id").Attr("id")
		originID  = msg.Child("origin-id").Attr("id")
		body      = msg.ChildText("body")
	)
	if archiveID == "" && body != "" {
		return parsedMessage{Kind: kindServer, Banner: body}
	}
	if archiveID == "" || authorID == "" || originID == "" || body == "" {
		return parsedMessage{Kind: kindInvalid}
	}

	message := &Message{
		ID:       archiveID,
		AuthorID: authorID,
		OriginID: originID,
		Body:     body,
		Mentions: parseMentions(msg),
	}
	if delay := msg.Child("delay"); delay != nil {
		message.Time = parseDelay(delay, r.clock)
		return parsedMessage{Kind: kindOld, Message: message}
	}
	message.Time = r.clock.Now()
	return parsedMessage{Kind: kindNew, Message: message}
}

// handle classifies one stanza and applies it to the registry,
// emitting the matching event. Invalid stanzas are dropped.
func (r *messageRegistry) handle(msg *xmpp.Stanza) {
	parsed := r.parse(msg)
	switch parsed.Kind {
	case kindRemove:
		removed, _ := r.messages.get(parsed.Target)
		r.emit(MessageRemoveEvent{Message: removed})
		r.messages.remove(parsed.Target)
		r.dropFromHistory(parsed.Target)
		r.logger.Debug("message retracted", "origin_id", parsed.Target, "known", removed != nil)
	case kindServer:
		r.mu.Lock()
		r.banner = parsed.Banner
		r.mu.Unlock()
		r.logger.Debug("server notice", "body", parsed.Banner)
	case kindOld:
		r.emit(OldMessageEvent{Message: parsed.Message})
		r.record(parsed.Message)
	case kindNew:
		r.emit(MessageEvent{Message: parsed.Message})
		r.record(parsed.Message)
	case kindInvalid:
		r.logger.Debug("dropping unusable message stanza", "from", msg.Attr("from"))
	}
}

func (r *messageRegistry) record(message *Message) {
	r.messages.set(message.OriginID, message)
	r.mu.Lock()
	r.history = append(r.history, message)
	r.mu.Unlock()
}

// dropFromHistory splices out the first history entry carrying the
// origin id. Later duplicates, if any, stay.
func (r *messageRegistry) dropFromHistory(originID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.history {
		if m.OriginID == originID {
			r.history = append(r.history[:i], r.history[i+1:]...)
			return
		}
	}
}

// parseDelay reads the delay element's timestamp, falling back to the
// receipt time when the stamp does not parse.
func parseDelay(delay *xmpp.Stanza, clk clock.Clock) time.Time {
	stamp, err := time.Parse(time.RFC3339, delay.Attr("stamp"))
	if err != nil {
		return clk.Now()
	}
	return stamp
}

// parseMentions collects the mention references embedded in a message
// stanza. Offsets are taken verbatim from the wire; references with
// unusable offsets are skipped.
func parseMentions(msg *xmpp.Stanza) []Mention {
	var mentions []Mention
	for _, ref := range msg.ChildrenNamed("reference") {
		if ref.Attr("type") != "mention" {
			continue
		}
		begin, err := strconv.Atoi(ref.Attr("begin"))
		if err != nil {
			continue
		}
		end, err := strconv.Atoi(ref.Attr("end"))
		if err != nil {
			continue
		}
		mentions = append(mentions, Mention{
			URI:      ref.Attr("uri"),
			Begin:    begin,
			End:      end,
			Nickname: mentionNickname(ref.Attr("uri")),
		})
	}
	return mentions
}

// mentionNickname recovers the nickname from a mention URI's trailing
// path segment.
func mentionNickname(uri string) string {
	segment := uri
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		segment = uri[i+1:]
	}
	decoded, err := url.PathUnescape(segment)
	if err != nil {
		return segment
	}
	return decoded
}
