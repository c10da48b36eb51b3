// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peertube-go/livechat/auth"
	"github.com/peertube-go/livechat/lib/clock"
	"github.com/peertube-go/livechat/lib/netutil"
	"github.com/peertube-go/livechat/xmpp"
)

// SessionState is the lifecycle phase of a Session.
type SessionState int

const (
	StateCreated SessionState = iota
	StateInitializing
	StateReady
	StateStopped
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

const (
	defaultKeepAliveInterval = 40 * time.Second
	defaultRequestTimeout    = 30 * time.Second
	eventBuffer              = 256
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Instance is the PeerTube host, no scheme ("peertube.example.org").
	Instance string

	// Room is the livechat room identifier, typically the video UUID.
	Room string

	// Nickname overrides the occupant nickname. When empty,
	// authenticated sessions use the nickname the instance suggests and
	// anonymous sessions draw a random "Anonymous N".
	Nickname string

	// Credentials, RefreshToken, and AccessToken select an
	// authenticated session; see the matching auth.Config fields. With
	// none of the three set the session joins anonymously.
	Credentials  *auth.Credentials
	RefreshToken string
	AccessToken  string

	// OnTokenRefresh observes every token pair issued during the
	// session, for persistence.
	OnTokenRefresh auth.RefreshFunc

	// HTTPOnly switches the page, API, and websocket URLs to the
	// cleartext schemes. For test instances.
	HTTPOnly bool

	// KeepAliveInterval is the ping cadence. Defaults to 40s.
	KeepAliveInterval time.Duration

	// RequestTimeout bounds each correlated request, on top of whatever
	// deadline the caller's ctx carries. Defaults to 30s.
	RequestTimeout time.Duration

	// HTTPClient is used for all HTTP requests. If nil,
	// http.DefaultClient.
	HTTPClient *http.Client

	// Clock drives timestamps, token expiry, and the keepalive ticker.
	// If nil, clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger

	// NewTransport overrides transport construction. If nil,
	// xmpp.NewWebsocketTransport is used.
	NewTransport func(xmpp.WebsocketConfig) xmpp.Transport
}

// Session is one client connection to one livechat room. Create with
// NewSession, connect with Start, consume Events, and issue commands
// with Message and Delete. All methods are safe for concurrent use.
type Session struct {
	config     SessionConfig
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger

	users      *userRegistry
	messages   *messageRegistry
	correlator *correlator
	events     chan Event

	stopKeepalive chan struct{}
	stopOnce      sync.Once

	mu         sync.Mutex
	state      SessionState
	transport  xmpp.Transport
	jid        xmpp.JID
	roomJID    xmpp.JID
	roomConfig RoomConfig
	pingDomain string
	emojis     map[string]string
}

// NewSession validates the configuration and returns a Session in the
// created state. No network activity happens until Start.
func NewSession(config SessionConfig) (*Session, error) {
	if config.Instance == "" {
		return nil, fmt.Errorf("chat: Instance is required")
	}
	if config.Room == "" {
		return nil, fmt.Errorf("chat: Room is required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = defaultKeepAliveInterval
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.NewTransport == nil {
		config.NewTransport = func(wc xmpp.WebsocketConfig) xmpp.Transport {
			return xmpp.NewWebsocketTransport(wc)
		}
	}

	session := &Session{
		config:        config,
		httpClient:    config.HTTPClient,
		clock:         config.Clock,
		logger:        config.Logger.With("room", config.Room),
		correlator:    newCorrelator(),
		events:        make(chan Event, eventBuffer),
		stopKeepalive: make(chan struct{}),
		state:         StateCreated,
	}
	session.users = newUserRegistry(session.emit, session.logger)
	session.messages = newMessageRegistry(session.emit, config.Clock, session.logger)
	return session, nil
}

// Start runs the full connection sequence: room configuration, token
// and credential exchange for authenticated sessions, emoji catalog,
// stream negotiation, room join. On success the session is Ready and a
// ReadyEvent is emitted; on failure it is Failed and cannot be
// restarted.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("chat: cannot start a %s session", state)
	}
	s.state = StateInitializing
	s.mu.Unlock()

	if err := s.start(ctx); err != nil {
		s.setState(StateFailed)
		if transport := s.currentTransport(); transport != nil {
			transport.Stop()
		}
		return err
	}
	s.setState(StateReady)
	s.emit(ReadyEvent{})
	return nil
}

func (s *Session) start(ctx context.Context) error {
	scheme := "https"
	if s.config.HTTPOnly {
		scheme = "http"
	}
	baseURL := scheme + "://" + s.config.Instance

	pageURL := baseURL + "/plugins/livechat/router/webchat/room/" + s.config.Room
	roomConfig, err := fetchRoomConfig(ctx, s.httpClient, pageURL)
	if err != nil {
		return err
	}
	roomJID := xmpp.ParseJID(roomConfig.Room)
	s.logger.Debug("room configuration extracted",
		"room_jid", roomJID.String(), "readonly", roomConfig.ForceReadonly)

	service, err := resolveServiceURL(roomConfig.LocalWebsocketServiceURL, s.config.Instance, s.config.HTTPOnly)
	if err != nil {
		return err
	}

	wsConfig := xmpp.WebsocketConfig{Service: service, Logger: s.logger}
	nickname := s.config.Nickname
	anonymous := s.config.Credentials == nil && s.config.RefreshToken == "" && s.config.AccessToken == ""
	if anonymous {
		wsConfig.Domain = roomConfig.LocalAnonymousJID
	} else {
		grant, err := s.authorize(ctx, baseURL, roomConfig.AuthenticationURL)
		if err != nil {
			return err
		}
		wsConfig.Domain = s.config.Instance
		wsConfig.Username = xmpp.ParseJID(grant.JID).Local
		wsConfig.Password = grant.Password
		if nickname == "" {
			nickname = grant.Nickname
		}
	}
	if nickname == "" {
		nickname = fmt.Sprintf("Anonymous %d", rand.IntN(100000))
	}

	emojis, err := fetchCustomEmojis(ctx, s.httpClient, roomConfig.CustomEmojisURL)
	if err != nil {
		return err
	}

	transport := s.config.NewTransport(wsConfig)
	jid, err := transport.Start(ctx)
	if err != nil {
		return err
	}

	pingDomain := s.config.Instance
	if anonymous {
		pingDomain = roomConfig.LocalAnonymousJID
	}
	s.mu.Lock()
	s.transport = transport
	s.jid = jid
	s.roomJID = roomJID
	s.roomConfig = roomConfig
	s.pingDomain = pingDomain
	s.emojis = emojis
	s.mu.Unlock()

	// The join reply flows through dispatch before the full self record
	// exists; a nickname-only placeholder keeps our own presence out of
	// the occupant map.
	s.users.setSelf(&User{Nickname: nickname, Online: true})

	go s.dispatchLoop(transport)

	if err := s.join(ctx, jid, roomJID, nickname); err != nil {
		return err
	}

	go s.keepaliveLoop(s.clock.NewTicker(s.config.KeepAliveInterval))
	return nil
}

// authorize exchanges a PeerTube access token for XMPP credentials at
// the room's authentication endpoint.
func (s *Session) authorize(ctx context.Context, baseURL, authenticationURL string) (transportGrant, error) {
	authenticator, err := auth.New(auth.Config{
		InstanceURL:  baseURL,
		Credentials:  s.config.Credentials,
		RefreshToken: s.config.RefreshToken,
		AccessToken:  s.config.AccessToken,
		OnRefresh:    s.config.OnTokenRefresh,
		HTTPClient:   s.httpClient,
		Clock:        s.clock,
		Logger:       s.logger,
	})
	if err != nil {
		return transportGrant{}, err
	}
	token, err := authenticator.GetAccessToken(ctx)
	if err != nil {
		return transportGrant{}, err
	}
	return fetchTransportGrant(ctx, s.httpClient, authenticationURL, token)
}

// join announces presence in the room and builds the local occupant
// record from the server's reply.
func (s *Session) join(ctx context.Context, jid, roomJID xmpp.JID, nickname string) error {
	presence := xmpp.New("presence", map[string]string{
		"from": jid.String(),
		"to":   roomJID.Bare() + "/" + nickname,
	}, xmpp.New("x", map[string]string{"xmlns": nsMUC}))

	reply, err := s.request(ctx, presence)
	if err != nil {
		return fmt.Errorf("chat: joining room: %w", err)
	}
	if errElement := reply.Child("error"); errElement != nil {
		return fmt.Errorf("chat: joining room: %w", stanzaError(errElement))
	}

	item := reply.Child("x").Child("item")
	grantedNickname := xmpp.ParseJID(reply.Attr("from")).Resource
	if grantedNickname == "" {
		grantedNickname = nickname
	}
	s.users.setSelf(&User{
		JID:         jid,
		OccupantID:  reply.Child("occupant-id").Attr("id"),
		Nickname:    grantedNickname,
		Affiliation: item.Attr("affiliation"),
		Role:        item.Attr("role"),
		Online:      true,
	})
	s.logger.Info("joined room", "nickname", grantedNickname, "jid", jid.String())
	return nil
}

// dispatchLoop routes every inbound stanza: correlation first, then
// the registries. Running resolution before registry handling means a
// correlated reply that is also a domain stanza (a message echo, the
// join presence) takes both paths.
func (s *Session) dispatchLoop(transport xmpp.Transport) {
	roomBare := s.roomBare()
	for stanza := range transport.Stanzas() {
		s.correlator.resolve(stanza)
		if xmpp.ParseJID(stanza.Attr("from")).Bare() != roomBare {
			continue
		}
		switch stanza.Name {
		case "presence":
			s.users.handle(stanza)
		case "message":
			s.messages.handle(stanza)
		}
	}

	s.mu.Lock()
	interrupted := s.state == StateReady || s.state == StateInitializing
	if interrupted {
		s.state = StateStopped
	}
	s.mu.Unlock()
	if interrupted {
		s.logger.Warn("stream closed by server")
		s.stopOnce.Do(func() { close(s.stopKeepalive) })
	}
}

// keepaliveLoop pings on every tick until the session stops.
func (s *Session) keepaliveLoop(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-s.stopKeepalive:
			return
		case <-ticker.C:
			s.ping()
		}
	}
}

// ping probes the server and the room occupant binding. Failures are
// logged, not fatal: a dead stream surfaces through the dispatch loop.
func (s *Session) ping() {
	if s.State() != StateReady {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RequestTimeout)
	defer cancel()

	s.mu.Lock()
	jid, roomJID, pingDomain := s.jid, s.roomJID, s.pingDomain
	s.mu.Unlock()
	self := s.users.Self()
	if self == nil {
		return
	}

	targets := []string{pingDomain, roomJID.Bare() + "/" + self.Nickname}
	for _, target := range targets {
		iq := xmpp.New("iq", map[string]string{
			"type": "get",
			"from": jid.String(),
			"to":   target,
		}, xmpp.New("ping", map[string]string{"xmlns": nsPing}))
		if _, err := s.request(ctx, iq); err != nil {
			s.logger.Warn("keepalive ping failed", "target", target, "error", err)
		}
	}
}

// request sends a stanza stamped with a fresh id and waits for the
// reply carrying the same id. The wait ends on reply, on ctx, or on
// the session's request timeout, whichever comes first.
func (s *Session) request(ctx context.Context, stanza *xmpp.Stanza) (*xmpp.Stanza, error) {
	transport := s.currentTransport()
	if transport == nil {
		return nil, ErrNotReady
	}

	id := uuid.NewString()
	stanza.SetAttr("id", id)
	replies := s.correlator.await(id)

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()
	if err := transport.Send(ctx, stanza); err != nil {
		s.correlator.cancel(id)
		return nil, err
	}
	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		s.correlator.cancel(id)
		return nil, fmt.Errorf("chat: awaiting reply to %s %s: %w", stanza.Name, id, ctx.Err())
	}
}

// Message sends a chat message. "@nickname" tokens naming known
// occupants become mention references; the returned record is the
// server's echo with its archive id and authoritative body.
func (s *Session) Message(ctx context.Context, body string) (*Message, error) {
	if s.State() != StateReady {
		return nil, ErrNotReady
	}
	s.mu.Lock()
	jid, roomJID := s.jid, s.roomJID
	s.mu.Unlock()

	var nicknames []string
	for _, user := range s.users.Users() {
		nicknames = append(nicknames, user.Nickname)
	}
	finalBody, mentions := extractMentions(body, roomJID.Bare(), nicknames)

	message := xmpp.New("message", map[string]string{
		"type": "groupchat",
		"from": jid.String(),
		"to":   roomJID.Bare(),
	},
		xmpp.New("body", nil).WithText(finalBody),
		xmpp.New("origin-id", map[string]string{"xmlns": nsStanzaID, "id": uuid.NewString()}),
	)
	for _, mention := range mentions {
		message.Append(xmpp.New("reference", map[string]string{
			"xmlns": nsReference,
			"type":  "mention",
			"begin": fmt.Sprint(mention.Begin),
			"end":   fmt.Sprint(mention.End),
			"uri":   mention.URI,
		}))
	}

	reply, err := s.request(ctx, message)
	if err != nil {
		return nil, err
	}
	if errElement := reply.Child("error"); errElement != nil {
		return nil, stanzaError(errElement)
	}
	parsed := s.messages.parse(reply)
	if parsed.Message == nil {
		return nil, fmt.Errorf("chat: server echo is not a usable message: %s", reply.XML())
	}
	return parsed.Message, nil
}

// Delete retracts a message previously sent under the given origin id.
func (s *Session) Delete(ctx context.Context, originID string) error {
	if s.State() != StateReady {
		return ErrNotReady
	}
	s.mu.Lock()
	jid, roomJID := s.jid, s.roomJID
	s.mu.Unlock()

	retraction := xmpp.New("message", map[string]string{
		"type": "groupchat",
		"from": jid.String(),
		"to":   roomJID.Bare(),
	},
		xmpp.New("apply-to", map[string]string{"xmlns": nsFasten, "id": originID},
			xmpp.New("retract", map[string]string{"xmlns": nsRetract})),
		xmpp.New("store", map[string]string{"xmlns": nsHints}),
	)

	reply, err := s.request(ctx, retraction)
	if err != nil {
		return err
	}
	if errElement := reply.Child("error"); errElement != nil {
		return stanzaError(errElement)
	}
	return nil
}

// Stop tears the session down: keepalive cancelled, transport closed.
// Safe to call more than once.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateReady && s.state != StateInitializing {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	transport := s.transport
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopKeepalive) })
	if transport != nil {
		return transport.Stop()
	}
	return nil
}

// Events returns the session's event stream. The channel is buffered
// and never closed; dispatch stalls if the consumer stops draining it.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Self returns the local occupant, or nil before the join completed.
func (s *Session) Self() *User { return s.users.Self() }

// Users returns the known occupants, oldest first, excluding the local
// occupant.
func (s *Session) Users() []*User { return s.users.Users() }

// User looks up an occupant by occupant id.
func (s *Session) User(occupantID string) (*User, bool) { return s.users.Get(occupantID) }

// Messages returns all stored messages in arrival order.
func (s *Session) Messages() []*Message { return s.messages.History() }

// MessageByOrigin looks up a message by origin id.
func (s *Session) MessageByOrigin(originID string) (*Message, bool) {
	return s.messages.Get(originID)
}

// ServerBanner returns the latest server notice, or "".
func (s *Session) ServerBanner() string { return s.messages.Banner() }

// Author resolves a message's author. The local occupant resolves too,
// even though Users never lists it.
func (s *Session) Author(message *Message) (*User, bool) {
	if self := s.users.Self(); self != nil && self.OccupantID != "" && self.OccupantID == message.AuthorID {
		return self, true
	}
	return s.users.Get(message.AuthorID)
}

// CustomEmojis returns the room's emoji catalog, short name to URL.
func (s *Session) CustomEmojis() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	emojis := make(map[string]string, len(s.emojis))
	for name, url := range s.emojis {
		emojis[name] = url
	}
	return emojis
}

// Room returns the configuration extracted from the room page. Zero
// before Start succeeds.
func (s *Session) Room() RoomConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomConfig
}

func (s *Session) emit(event Event) { s.events <- event }

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) currentTransport() xmpp.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

func (s *Session) roomBare() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomJID.Bare()
}

// transportGrant is the XMPP credential set the authentication
// endpoint issues against a PeerTube access token.
type transportGrant struct {
	JID      string `json:"jid"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

func fetchTransportGrant(ctx context.Context, client *http.Client, grantURL string, token auth.Token) (transportGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, grantURL, nil)
	if err != nil {
		return transportGrant{}, fmt.Errorf("%w: building request: %w", ErrAuthorization, err)
	}
	req.Header.Set("Authorization", token.Header())
	resp, err := client.Do(req)
	if err != nil {
		return transportGrant{}, fmt.Errorf("%w: fetching %s: %w", ErrAuthorization, grantURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return transportGrant{}, fmt.Errorf("%w: %s returned %s: %s",
			ErrAuthorization, grantURL, resp.Status, netutil.ErrorBody(resp.Body))
	}
	var grant transportGrant
	if err := netutil.DecodeResponse(resp.Body, &grant); err != nil {
		return transportGrant{}, fmt.Errorf("%w: decoding credentials: %w", ErrAuthorization, err)
	}
	if grant.JID == "" || grant.Password == "" {
		return transportGrant{}, fmt.Errorf("%w: credential response incomplete", ErrAuthorization)
	}
	return grant, nil
}

// resolveServiceURL turns the room page's websocket URL, which may be
// host-relative, into an absolute one.
func resolveServiceURL(serviceURL, instance string, httpOnly bool) (string, error) {
	switch {
	case strings.HasPrefix(serviceURL, "ws://"), strings.HasPrefix(serviceURL, "wss://"):
		return serviceURL, nil
	case strings.HasPrefix(serviceURL, "/"):
		scheme := "wss"
		if httpOnly {
			scheme = "ws"
		}
		return scheme + "://" + instance + serviceURL, nil
	default:
		return "", fmt.Errorf("%w: unusable websocket service URL %q", ErrRoomMetadata, serviceURL)
	}
}

// stanzaError converts a reply's error element into a StanzaError.
func stanzaError(errElement *xmpp.Stanza) *StanzaError {
	stanzaErr := &StanzaError{Text: errElement.ChildText("text")}
	for _, child := range errElement.Children {
		if child.Name != "text" {
			stanzaErr.Condition = child.Name
			break
		}
	}
	if stanzaErr.Text == "" {
		stanzaErr.Text = "unknown error"
	}
	return stanzaErr
}
