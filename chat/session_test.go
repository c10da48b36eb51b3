// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peertube-go/livechat/auth"
	"github.com/peertube-go/livechat/lib/clock"
	"github.com/peertube-go/livechat/lib/testutil"
	"github.com/peertube-go/livechat/xmpp"
)

const (
	testRoomBare   = "room-uuid@muc.example.org"
	testAnonDomain = "anon.example.org"
)

// fakeTransport is an in-memory Transport. Outbound stanzas are
// recorded on sent and answered by the respond script; inbound stanzas
// are injected through deliver.
type fakeTransport struct {
	jid     xmpp.JID
	inbound chan *xmpp.Stanza
	sent    chan *xmpp.Stanza
	respond func(*xmpp.Stanza) []*xmpp.Stanza

	stopOnce sync.Once
	config   xmpp.WebsocketConfig
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		jid:     xmpp.JID{Local: "guest-1", Domain: testAnonDomain, Resource: "res"},
		inbound: make(chan *xmpp.Stanza, 64),
		sent:    make(chan *xmpp.Stanza, 64),
	}
}

func (t *fakeTransport) Start(ctx context.Context) (xmpp.JID, error) { return t.jid, nil }

func (t *fakeTransport) Send(ctx context.Context, stanza *xmpp.Stanza) error {
	t.sent <- stanza
	if t.respond != nil {
		for _, reply := range t.respond(stanza) {
			t.inbound <- reply
		}
	}
	return nil
}

func (t *fakeTransport) Stanzas() <-chan *xmpp.Stanza { return t.inbound }

func (t *fakeTransport) Stop() error {
	t.stopOnce.Do(func() { close(t.inbound) })
	return nil
}

func (t *fakeTransport) deliver(stanza *xmpp.Stanza) { t.inbound <- stanza }

// scriptedReplies answers join presences, pings, messages, and
// retractions the way the livechat server does.
func scriptedReplies(stanza *xmpp.Stanza) []*xmpp.Stanza {
	id := stanza.Attr("id")
	switch {
	case stanza.Name == "presence":
		to := xmpp.ParseJID(stanza.Attr("to"))
		return []*xmpp.Stanza{xmpp.New("presence", map[string]string{
			"id":   id,
			"from": to.String(),
			"to":   stanza.Attr("from"),
		},
			xmpp.New("x", map[string]string{"xmlns": nsMUC + "#user"},
				xmpp.New("item", map[string]string{"affiliation": "none", "role": "participant"})),
			xmpp.New("occupant-id", map[string]string{"xmlns": nsOccupant, "id": "occ-self"}),
		)}
	case stanza.Name == "iq" && stanza.Child("ping") != nil:
		return []*xmpp.Stanza{xmpp.New("iq", map[string]string{
			"id": id, "type": "result", "from": stanza.Attr("to"),
		})}
	case stanza.Name == "message" && stanza.ChildText("body") != "":
		echo := xmpp.New("message", map[string]string{
			"id":   id,
			"type": "groupchat",
			"from": testRoomBare + "/tester",
		},
			xmpp.New("stanza-id", map[string]string{"xmlns": nsStanzaID, "id": testutil.UniqueID("archive")}),
			xmpp.New("occupant-id", map[string]string{"xmlns": nsOccupant, "id": "occ-self"}),
			xmpp.New("origin-id", map[string]string{"xmlns": nsStanzaID, "id": stanza.Child("origin-id").Attr("id")}),
			xmpp.New("body", nil).WithText(stanza.ChildText("body")),
		)
		echo.Append(stanza.ChildrenNamed("reference")...)
		return []*xmpp.Stanza{echo}
	case stanza.Name == "message" && stanza.Child("apply-to") != nil:
		return []*xmpp.Stanza{xmpp.New("message", map[string]string{
			"id":   id,
			"type": "groupchat",
			"from": testRoomBare + "/tester",
		},
			xmpp.New("apply-to", map[string]string{"xmlns": nsFasten, "id": stanza.Child("apply-to").Attr("id")},
				xmpp.New("retract", map[string]string{"xmlns": nsRetract})),
		)}
	}
	return nil
}

func testRoomPage(authenticationURL string) string {
	return fmt.Sprintf(`<html><script>initConverse({
	"room": %q,
	"localWebsocketServiceUrl": "/xmpp-websocket",
	"localAnonymousJID": %q,
	"authenticationUrl": %q,
	"customEmojisUrl": "",
});</script></html>`, testRoomBare, testAnonDomain, authenticationURL)
}

type sessionFixture struct {
	session   *Session
	transport *fakeTransport
	clock     *clock.FakeClock
}

// startAnonymousSession brings up a ready anonymous session against an
// httptest instance and a scripted fake transport.
func startAnonymousSession(t *testing.T, configure func(*SessionConfig)) *sessionFixture {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testRoomPage(""))
	}))
	t.Cleanup(server.Close)

	transport := newFakeTransport()
	transport.respond = scriptedReplies
	fakeClock := clock.Fake(testEpoch)

	config := SessionConfig{
		Instance:   strings.TrimPrefix(server.URL, "http://"),
		Room:       "room-uuid",
		Nickname:   "tester",
		HTTPOnly:   true,
		HTTPClient: server.Client(),
		Clock:      fakeClock,
		Logger:     testutil.DiscardLogger(),
		NewTransport: func(wc xmpp.WebsocketConfig) xmpp.Transport {
			transport.config = wc
			return transport
		},
	}
	if configure != nil {
		configure(&config)
	}

	session, err := NewSession(config)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { session.Stop() })

	fixture := &sessionFixture{session: session, transport: transport, clock: fakeClock}
	// First outbound stanza is the join presence; first event is Ready.
	join := testutil.RequireReceive(t, transport.sent, time.Second, "join presence")
	if join.Name != "presence" {
		t.Fatalf("first outbound stanza is %s, want the join presence", join.Name)
	}
	event := testutil.RequireReceive(t, session.Events(), time.Second, "ready event")
	if _, ok := event.(ReadyEvent); !ok {
		t.Fatalf("first event is %T, want ReadyEvent", event)
	}
	return fixture
}

func TestSessionStartAnonymous(t *testing.T) {
	f := startAnonymousSession(t, nil)

	if got := f.session.State(); got != StateReady {
		t.Fatalf("state = %v, want ready", got)
	}
	if got := f.transport.config.Domain; got != testAnonDomain {
		t.Fatalf("transport domain = %q, want the anonymous domain", got)
	}
	if f.transport.config.Username != "" || f.transport.config.Password != "" {
		t.Fatal("anonymous session carried SASL credentials")
	}
	if !strings.HasSuffix(f.transport.config.Service, "/xmpp-websocket") ||
		!strings.HasPrefix(f.transport.config.Service, "ws://") {
		t.Fatalf("service = %q, want the resolved relative websocket URL", f.transport.config.Service)
	}

	self := f.session.Self()
	if self == nil || self.OccupantID != "occ-self" || self.Nickname != "tester" {
		t.Fatalf("self = %+v", self)
	}
}

func TestSessionGeneratesAnonymousNickname(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testRoomPage(""))
	}))
	defer server.Close()

	transport := newFakeTransport()
	transport.respond = scriptedReplies
	session, err := NewSession(SessionConfig{
		Instance:     strings.TrimPrefix(server.URL, "http://"),
		Room:         "room-uuid",
		HTTPOnly:     true,
		HTTPClient:   server.Client(),
		Clock:        clock.Fake(testEpoch),
		Logger:       testutil.DiscardLogger(),
		NewTransport: func(xmpp.WebsocketConfig) xmpp.Transport { return transport },
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer session.Stop()

	join := testutil.RequireReceive(t, transport.sent, time.Second, "join presence")
	nickname := xmpp.ParseJID(join.Attr("to")).Resource
	if !strings.HasPrefix(nickname, "Anonymous ") {
		t.Fatalf("generated nickname = %q, want an Anonymous N draw", nickname)
	}
}

func TestSessionAuthenticated(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	instance := strings.TrimPrefix(server.URL, "http://")

	mux.HandleFunc("/api/v1/oauth-clients/local", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"client_id": "cid", "client_secret": "secret"}`)
	})
	mux.HandleFunc("/api/v1/users/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token": "at-0", "refresh_token": "rt-0", "token_type": "Bearer", "expires_in": 3600}`)
	})
	var grantAuthorization string
	mux.HandleFunc("/xmpp-credentials", func(w http.ResponseWriter, r *http.Request) {
		grantAuthorization = r.Header.Get("Authorization")
		fmt.Fprintf(w, `{"jid": "alice@%s", "password": "xmpp-secret", "nickname": "Alice"}`, instance)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testRoomPage(server.URL+"/xmpp-credentials"))
	})

	transport := newFakeTransport()
	transport.respond = scriptedReplies
	session, err := NewSession(SessionConfig{
		Instance:    instance,
		Room:        "room-uuid",
		Credentials: &auth.Credentials{Username: "alice", Password: "hunter2"},
		HTTPOnly:    true,
		HTTPClient:  server.Client(),
		Clock:       clock.Fake(testEpoch),
		Logger:      testutil.DiscardLogger(),
		NewTransport: func(wc xmpp.WebsocketConfig) xmpp.Transport {
			transport.config = wc
			return transport
		},
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer session.Stop()

	if grantAuthorization != "Bearer at-0" {
		t.Fatalf("credential endpoint saw Authorization %q", grantAuthorization)
	}
	if transport.config.Domain != instance {
		t.Fatalf("transport domain = %q, want the instance host", transport.config.Domain)
	}
	if transport.config.Username != "alice" || transport.config.Password != "xmpp-secret" {
		t.Fatalf("transport credentials = %q/%q", transport.config.Username, transport.config.Password)
	}

	// No explicit nickname: the instance-suggested one is used.
	join := testutil.RequireReceive(t, transport.sent, time.Second, "join presence")
	if got := xmpp.ParseJID(join.Attr("to")).Resource; got != "Alice" {
		t.Fatalf("join nickname = %q, want the suggested one", got)
	}
}

func TestSessionMessage(t *testing.T) {
	f := startAnonymousSession(t, nil)

	f.transport.deliver(presenceStanza("bob jones", "occ-bob", "none", "participant").
		SetAttr("from", testRoomBare+"/bob jones"))
	testutil.RequireReceive(t, f.session.Events(), time.Second, "bob's presence")

	message, err := f.session.Message(context.Background(), "hey @bob%20jones o/")
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if message.Body != "hey bob jones o/" {
		t.Fatalf("echoed body = %q", message.Body)
	}
	if message.ID == "" || message.OriginID == "" {
		t.Fatalf("echo lacks identifiers: %+v", message)
	}
	if len(message.Mentions) != 1 || message.Mentions[0].Nickname != "bob jones" {
		t.Fatalf("mentions = %+v", message.Mentions)
	}
	if got := message.Body[message.Mentions[0].Begin:message.Mentions[0].End]; got != "bob jones" {
		t.Fatalf("mention offsets cover %q", got)
	}

	// The echo also flows through dispatch as a live message.
	event := testutil.RequireReceive(t, f.session.Events(), time.Second, "message event")
	messageEvent, ok := event.(MessageEvent)
	if !ok {
		t.Fatalf("got %T, want MessageEvent", event)
	}
	if messageEvent.Message.OriginID != message.OriginID {
		t.Fatal("dispatched echo differs from the returned record")
	}
	if stored, ok := f.session.MessageByOrigin(message.OriginID); !ok || stored.Body != message.Body {
		t.Fatal("echo was not stored")
	}
}

func TestSessionMessageRejected(t *testing.T) {
	f := startAnonymousSession(t, nil)
	f.transport.respond = func(stanza *xmpp.Stanza) []*xmpp.Stanza {
		return []*xmpp.Stanza{xmpp.New("message", map[string]string{
			"id":   stanza.Attr("id"),
			"type": "error",
			"from": testRoomBare,
		},
			xmpp.New("error", map[string]string{"type": "auth"},
				xmpp.New("forbidden", map[string]string{"xmlns": "urn:ietf:params:xml:ns:xmpp-stanzas"}),
				xmpp.New("text", nil).WithText("Visitors are not allowed to send messages")),
		)}
	}

	_, err := f.session.Message(context.Background(), "silenced")
	var stanzaErr *StanzaError
	if !errors.As(err, &stanzaErr) {
		t.Fatalf("err = %v, want a StanzaError", err)
	}
	if stanzaErr.Condition != "forbidden" {
		t.Fatalf("condition = %q", stanzaErr.Condition)
	}
	if !strings.Contains(stanzaErr.Text, "not allowed") {
		t.Fatalf("text = %q", stanzaErr.Text)
	}
}

func TestSessionDelete(t *testing.T) {
	f := startAnonymousSession(t, nil)

	message, err := f.session.Message(context.Background(), "delete me")
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	testutil.RequireReceive(t, f.session.Events(), time.Second, "message event")
	testutil.RequireReceive(t, f.transport.sent, time.Second, "outbound message")

	if err := f.session.Delete(context.Background(), message.OriginID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	retraction := testutil.RequireReceive(t, f.transport.sent, time.Second, "outbound retraction")
	applyTo := retraction.Child("apply-to")
	if applyTo.Attr("id") != message.OriginID || applyTo.Attr("xmlns") != nsFasten {
		t.Fatalf("retraction apply-to = %s", retraction.XML())
	}
	if applyTo.Child("retract").Attr("xmlns") != nsRetract {
		t.Fatalf("retraction lacks the retract element: %s", retraction.XML())
	}
	if retraction.Child("store").Attr("xmlns") != nsHints {
		t.Fatalf("retraction lacks the store hint: %s", retraction.XML())
	}

	event := testutil.RequireReceive(t, f.session.Events(), time.Second, "remove event")
	removeEvent, ok := event.(MessageRemoveEvent)
	if !ok {
		t.Fatalf("got %T, want MessageRemoveEvent", event)
	}
	if removeEvent.Message == nil || removeEvent.Message.OriginID != message.OriginID {
		t.Fatalf("remove event carries %+v", removeEvent.Message)
	}
	if _, ok := f.session.MessageByOrigin(message.OriginID); ok {
		t.Fatal("retracted message still stored")
	}
}

func TestSessionKeepalive(t *testing.T) {
	f := startAnonymousSession(t, nil)

	f.clock.Advance(defaultKeepAliveInterval)

	serverPing := testutil.RequireReceive(t, f.transport.sent, time.Second, "server ping")
	if serverPing.Child("ping").Attr("xmlns") != nsPing || serverPing.Attr("to") != testAnonDomain {
		t.Fatalf("server ping = %s", serverPing.XML())
	}
	roomPing := testutil.RequireReceive(t, f.transport.sent, time.Second, "room ping")
	if roomPing.Attr("to") != testRoomBare+"/tester" {
		t.Fatalf("room ping targets %q", roomPing.Attr("to"))
	}

	f.session.Stop()
	f.clock.Advance(defaultKeepAliveInterval)
	testutil.RequireNoReceive(t, f.transport.sent, 50*time.Millisecond, "ping after stop")
}

func TestSessionStop(t *testing.T) {
	f := startAnonymousSession(t, nil)

	if err := f.session.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.session.State(); got != StateStopped {
		t.Fatalf("state = %v, want stopped", got)
	}
	if err := f.session.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, err := f.session.Message(context.Background(), "too late"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Message after Stop = %v, want ErrNotReady", err)
	}
	if err := f.session.Delete(context.Background(), "g1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Delete after Stop = %v, want ErrNotReady", err)
	}
}

func TestSessionStreamClosedByServer(t *testing.T) {
	f := startAnonymousSession(t, nil)

	f.transport.Stop()

	deadline := time.Now().Add(time.Second)
	for f.session.State() != StateStopped {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want stopped after stream close", f.session.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionDispatchFiltersForeignStanzas(t *testing.T) {
	f := startAnonymousSession(t, nil)

	f.transport.deliver(liveMessage("a1", "occ-x", "g1", "from another room").
		SetAttr("from", "elsewhere@muc.example.org/someone"))
	f.transport.deliver(liveMessage("a2", "occ-y", "g2", "from this room").
		SetAttr("from", testRoomBare+"/someone"))

	event := testutil.RequireReceive(t, f.session.Events(), time.Second, "room message")
	messageEvent, ok := event.(MessageEvent)
	if !ok || messageEvent.Message.Body != "from this room" {
		t.Fatalf("got %#v, want only the stanza from this room", event)
	}
	if _, ok := f.session.MessageByOrigin("g1"); ok {
		t.Fatal("foreign stanza was stored")
	}
}

func TestSessionArchiveReplay(t *testing.T) {
	f := startAnonymousSession(t, nil)

	replay := liveMessage("a1", "occ-x", "g1", "before you arrived")
	replay.SetAttr("from", testRoomBare+"/earlier")
	replay.Append(xmpp.New("delay", map[string]string{"xmlns": nsDelay, "stamp": "2026-03-14T08:00:00Z"}))
	f.transport.deliver(replay)

	event := testutil.RequireReceive(t, f.session.Events(), time.Second, "replay event")
	old, ok := event.(OldMessageEvent)
	if !ok {
		t.Fatalf("got %T, want OldMessageEvent", event)
	}
	if want := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC); !old.Message.Time.Equal(want) {
		t.Fatalf("replay time = %v, want %v", old.Message.Time, want)
	}
}

func TestSessionStartFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	session, err := NewSession(SessionConfig{
		Instance:   strings.TrimPrefix(server.URL, "http://"),
		Room:       "room-uuid",
		HTTPOnly:   true,
		HTTPClient: server.Client(),
		Logger:     testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := session.Start(context.Background()); !errors.Is(err, ErrRoomMetadata) {
		t.Fatalf("Start = %v, want ErrRoomMetadata", err)
	}
	if got := session.State(); got != StateFailed {
		t.Fatalf("state = %v, want failed", got)
	}
	if err := session.Start(context.Background()); err == nil {
		t.Fatal("restarting a failed session must error")
	}
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession(SessionConfig{Room: "room-uuid"}); err == nil {
		t.Fatal("missing instance accepted")
	}
	if _, err := NewSession(SessionConfig{Instance: "peertube.example.org"}); err == nil {
		t.Fatal("missing room accepted")
	}
}
