// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

// Event is the sealed set of session event payloads delivered on
// [Session.Events]. Events are emitted in stanza arrival order.
type Event interface {
	sessionEvent()
}

// ReadyEvent fires once, after the room join completes.
type ReadyEvent struct{}

// MessageEvent carries a live message.
type MessageEvent struct {
	Message *Message
}

// OldMessageEvent carries a message replayed from the room archive on
// join. Replays arrive before ReadyEvent.
type OldMessageEvent struct {
	Message *Message
}

// MessageRemoveEvent reports a retraction. Message is the record that
// was stored for the retracted origin id, or nil when the target was
// never seen.
type MessageRemoveEvent struct {
	Message *Message
}

// PresenceEvent reports an occupant update. Old is the previous record
// for the same occupant, or nil on first sighting. New is never nil.
type PresenceEvent struct {
	Old *User
	New *User
}

func (ReadyEvent) sessionEvent()         {}
func (MessageEvent) sessionEvent()       {}
func (OldMessageEvent) sessionEvent()    {}
func (MessageRemoveEvent) sessionEvent() {}
func (PresenceEvent) sessionEvent()      {}
