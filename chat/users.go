// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"log/slog"
	"sync"

	"github.com/peertube-go/livechat/xmpp"
)

// userRegistry tracks room occupants, keyed by occupant id. The local
// occupant is held aside: presences echoing our own nickname are
// dropped so the registry only ever describes other people.
type userRegistry struct {
	users  *store[string, *User]
	emit   func(Event)
	logger *slog.Logger

	mu   sync.RWMutex
	self *User
}

func newUserRegistry(emit func(Event), logger *slog.Logger) *userRegistry {
	return &userRegistry{
		users:  newStore[string, *User](),
		emit:   emit,
		logger: logger,
	}
}

func (r *userRegistry) setSelf(user *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.self = user
}

// Self returns the local occupant, or nil before the room join
// completed.
func (r *userRegistry) Self() *User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self
}

// Get looks up an occupant by occupant id.
func (r *userRegistry) Get(occupantID string) (*User, bool) {
	return r.users.get(occupantID)
}

// Users returns the known occupants, oldest first. The local occupant
// is not included.
func (r *userRegistry) Users() []*User {
	return r.users.values()
}

// handle folds one presence stanza into the registry and emits a
// PresenceEvent with the superseded record.
func (r *userRegistry) handle(presence *xmpp.Stanza) {
	nickname := xmpp.ParseJID(presence.Attr("from")).Resource
	if self := r.Self(); self != nil && nickname == self.Nickname {
		return
	}

	item := presence.Child("x").Child("item")
	user := &User{
		OccupantID:  presence.Child("occupant-id").Attr("id"),
		Nickname:    nickname,
		Affiliation: item.Attr("affiliation"),
		Role:        item.Attr("role"),
		Online:      presence.Attr("type") != "unavailable",
	}
	if jid := item.Attr("jid"); jid != "" {
		user.JID = xmpp.ParseJID(jid)
	}

	old, _ := r.users.get(user.OccupantID)
	r.emit(PresenceEvent{Old: old, New: user})
	r.users.set(user.OccupantID, user)
	r.logger.Debug("presence",
		"nickname", user.Nickname,
		"occupant_id", user.OccupantID,
		"online", user.Online)
}
