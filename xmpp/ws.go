// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package xmpp

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Framing and negotiation namespaces (RFC 7395, RFC 6120).
const (
	nsFraming = "urn:ietf:params:xml:ns:xmpp-framing"
	nsSASL    = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind    = "urn:ietf:params:xml:ns:xmpp-bind"
)

// stanzaBuffer is the inbound channel capacity. Room history replay
// after a join can burst several dozen stanzas before the session's
// dispatch loop catches up.
const stanzaBuffer = 64

// WebsocketConfig configures a WebsocketTransport.
type WebsocketConfig struct {
	// Service is the websocket URL (e.g., "wss://host/xmpp-websocket").
	Service string

	// Domain is the XMPP domain to open the stream against: the
	// anonymous domain for guest sessions, the instance host for
	// authenticated ones.
	Domain string

	// Username and Password select SASL PLAIN when both are set;
	// otherwise the stream authenticates with SASL ANONYMOUS.
	Username string
	Password string

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// WebsocketTransport negotiates an XMPP stream over the WebSocket
// framing subprotocol: every frame carries exactly one complete XML
// element, so no byte-level stream parsing is needed.
type WebsocketTransport struct {
	config WebsocketConfig
	logger *slog.Logger

	connection *websocket.Conn
	writeMu    sync.Mutex

	stanzas  chan *Stanza
	stopOnce sync.Once
}

var _ Transport = (*WebsocketTransport)(nil)

// NewWebsocketTransport creates a transport. Connection happens in
// Start.
func NewWebsocketTransport(config WebsocketConfig) *WebsocketTransport {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketTransport{
		config:  config,
		logger:  logger,
		stanzas: make(chan *Stanza, stanzaBuffer),
	}
}

// Start dials the service, negotiates the stream (open, SASL, stream
// restart, resource binding), and begins delivering inbound stanzas on
// Stanzas. Returns the bound session address.
func (t *WebsocketTransport) Start(ctx context.Context) (JID, error) {
	dialer := websocket.Dialer{Subprotocols: []string{"xmpp"}}
	connection, response, err := dialer.DialContext(ctx, t.config.Service, nil)
	if err != nil {
		if response != nil {
			return JID{}, fmt.Errorf("xmpp: dialing %s (status %d): %w", t.config.Service, response.StatusCode, err)
		}
		return JID{}, fmt.Errorf("xmpp: dialing %s: %w", t.config.Service, err)
	}
	t.connection = connection

	if err := t.openStream(ctx); err != nil {
		connection.Close()
		return JID{}, err
	}
	if err := t.authenticate(ctx); err != nil {
		connection.Close()
		return JID{}, err
	}
	// SASL success discards all stream state; the stream restarts from
	// a fresh open before resources can be bound.
	if err := t.openStream(ctx); err != nil {
		connection.Close()
		return JID{}, err
	}
	boundJID, err := t.bindResource(ctx)
	if err != nil {
		connection.Close()
		return JID{}, err
	}

	t.logger.Debug("xmpp stream established", "jid", boundJID.String(), "domain", t.config.Domain)
	go t.readLoop()
	return boundJID, nil
}

// openStream sends the framing open element and consumes the server's
// open and features elements, returning the features stanza.
func (t *WebsocketTransport) openStream(ctx context.Context) error {
	open := New("open", map[string]string{
		"xmlns":   nsFraming,
		"to":      t.config.Domain,
		"version": "1.0",
	})
	if err := t.write(ctx, open); err != nil {
		return err
	}
	if _, err := t.readNamed(ctx, "open"); err != nil {
		return err
	}
	if _, err := t.readNamed(ctx, "features"); err != nil {
		return err
	}
	return nil
}

// authenticate runs one SASL exchange: PLAIN when credentials were
// supplied, ANONYMOUS otherwise.
func (t *WebsocketTransport) authenticate(ctx context.Context) error {
	auth := New("auth", map[string]string{"xmlns": nsSASL})
	if t.config.Username != "" && t.config.Password != "" {
		auth.SetAttr("mechanism", "PLAIN")
		payload := "\x00" + t.config.Username + "\x00" + t.config.Password
		auth.Text = base64.StdEncoding.EncodeToString([]byte(payload))
	} else {
		auth.SetAttr("mechanism", "ANONYMOUS")
		auth.Text = "="
	}

	if err := t.write(ctx, auth); err != nil {
		return err
	}
	reply, err := t.read(ctx)
	if err != nil {
		return err
	}
	switch reply.Name {
	case "success":
		return nil
	case "failure":
		condition := "authentication failed"
		if len(reply.Children) > 0 {
			condition = reply.Children[0].Name
		}
		return fmt.Errorf("xmpp: SASL failure: %s", condition)
	default:
		return fmt.Errorf("xmpp: unexpected %s element during SASL", reply.Name)
	}
}

// bindResource binds a random resource and returns the full JID the
// server assigned.
func (t *WebsocketTransport) bindResource(ctx context.Context) (JID, error) {
	requestID := uuid.NewString()
	bind := New("iq", map[string]string{"type": "set", "id": requestID},
		New("bind", map[string]string{"xmlns": nsBind}))
	if err := t.write(ctx, bind); err != nil {
		return JID{}, err
	}

	reply, err := t.readNamed(ctx, "iq")
	if err != nil {
		return JID{}, err
	}
	if reply.Attr("type") != "result" {
		return JID{}, fmt.Errorf("xmpp: resource binding failed: %s", reply.XML())
	}
	address := reply.Child("bind").ChildText("jid")
	if address == "" {
		return JID{}, fmt.Errorf("xmpp: bind result carries no jid")
	}
	return ParseJID(address), nil
}

// Send transmits one stanza. Safe for concurrent use.
func (t *WebsocketTransport) Send(ctx context.Context, stanza *Stanza) error {
	return t.write(ctx, stanza)
}

// Stanzas returns the inbound stanza stream.
func (t *WebsocketTransport) Stanzas() <-chan *Stanza {
	return t.stanzas
}

// Stop sends the framing close element and closes the connection. The
// Stanzas channel closes once the read loop observes the teardown.
func (t *WebsocketTransport) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		if t.connection == nil {
			return
		}
		// Best effort: the peer may already be gone.
		_ = t.write(context.Background(), New("close", map[string]string{"xmlns": nsFraming}))
		err = t.connection.Close()
	})
	return err
}

// write serializes one frame. gorilla/websocket permits a single
// concurrent writer, so all writes funnel through writeMu.
func (t *WebsocketTransport) write(ctx context.Context, stanza *Stanza) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("xmpp: send cancelled: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.connection.WriteMessage(websocket.TextMessage, []byte(stanza.XML())); err != nil {
		return fmt.Errorf("xmpp: writing %s frame: %w", stanza.Name, err)
	}
	return nil
}

// read consumes the next frame during stream negotiation (before the
// read loop owns the connection).
func (t *WebsocketTransport) read(ctx context.Context) (*Stanza, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("xmpp: read cancelled: %w", err)
	}
	_, data, err := t.connection.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("xmpp: reading frame: %w", err)
	}
	return Parse(data)
}

// readNamed reads frames until one with the given local name arrives.
// Unexpected interleaved elements during negotiation are logged and
// skipped.
func (t *WebsocketTransport) readNamed(ctx context.Context, name string) (*Stanza, error) {
	for {
		stanza, err := t.read(ctx)
		if err != nil {
			return nil, err
		}
		if stanza.Name == name {
			return stanza, nil
		}
		t.logger.Debug("skipping element during negotiation", "element", stanza.Name, "want", name)
	}
}

// readLoop delivers inbound stanzas until the connection closes.
func (t *WebsocketTransport) readLoop() {
	defer close(t.stanzas)
	for {
		_, data, err := t.connection.ReadMessage()
		if err != nil {
			t.logger.Debug("xmpp stream ended", "error", err)
			return
		}
		stanza, err := Parse(data)
		if err != nil {
			t.logger.Warn("dropping unparseable frame", "error", err)
			continue
		}
		// Stream-level close: the server is tearing down.
		if stanza.Name == "close" && stanza.Attr("xmlns") == nsFraming {
			return
		}
		t.stanzas <- stanza
	}
}
