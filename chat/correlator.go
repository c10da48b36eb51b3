// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"sync"

	"github.com/peertube-go/livechat/xmpp"
)

// correlator matches replies to outstanding requests by stanza id. A
// request registers its id before the stanza is written so a fast
// reply cannot be missed. Resolution happens on the dispatch
// goroutine, before the stanza reaches the registries, so a reply that
// is also a domain stanza is seen by both paths.
type correlator struct {
	mu      sync.Mutex
	pending map[string]chan *xmpp.Stanza
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]chan *xmpp.Stanza)}
}

// await registers interest in the stanza id and returns the channel
// the reply will be delivered on.
func (c *correlator) await(id string) <-chan *xmpp.Stanza {
	ch := make(chan *xmpp.Stanza, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

// cancel abandons a registration, typically because the waiter's
// context ended first. A reply arriving later is then unclaimed and
// flows through normal dispatch only.
func (c *correlator) cancel(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve delivers a stanza to the waiter registered for its id, if
// any. Each registration resolves at most once.
func (c *correlator) resolve(stanza *xmpp.Stanza) {
	id := stanza.Attr("id")
	if id == "" {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- stanza
	}
}
