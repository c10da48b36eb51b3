// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth obtains and refreshes PeerTube bearer tokens.
//
// [Authenticator] implements the credential-exchange state machine: a
// password grant or refresh_token grant against the instance's token
// endpoint, with the OAuth client pair discovered from the well-known
// registration endpoint. A successful exchange caches the access token
// for the server-declared lifetime and permanently switches the
// authenticator to refresh_token mode: once a refresh credential
// exists it supersedes any stored password.
//
// Token expiry is driven by an injected [clock.Clock] so the lifetime
// logic is testable without waiting.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/peertube-go/livechat/lib/clock"
	"github.com/peertube-go/livechat/lib/netutil"
)

// Setup failure classes. Wrapped into every error returned by token
// acquisition so callers can distinguish the failing exchange:
//
//	if errors.Is(err, auth.ErrLogin) { ... }
var (
	// ErrClientDiscovery: the OAuth client registration endpoint was
	// unreachable or returned a non-success status.
	ErrClientDiscovery = errors.New("oauth client discovery failed")

	// ErrLogin: the token endpoint rejected the grant.
	ErrLogin = errors.New("login failed")
)

// Token is a short-lived bearer credential plus its scheme label
// ("Bearer"), ready to join into an Authorization header.
type Token struct {
	AccessToken string
	Kind        string
}

// Header returns the Authorization header value for this token.
func (t Token) Header() string { return t.Kind + " " + t.AccessToken }

// Credentials is a username/password pair for the password grant.
type Credentials struct {
	Username string
	Password string
}

// RefreshFunc observes every freshly issued token pair so the caller
// can persist it (see lib/credfile). Invoked synchronously after a
// successful grant exchange, before GetAccessToken returns.
type RefreshFunc func(accessToken, refreshToken string, expiresInSeconds int)

// Config configures an Authenticator.
type Config struct {
	// InstanceURL is the PeerTube instance base URL, scheme included
	// (e.g., "https://peertube.example.org").
	InstanceURL string

	// Credentials selects the password grant for the first exchange.
	Credentials *Credentials

	// RefreshToken selects the refresh_token grant. Takes precedence
	// over Credentials when both are set.
	RefreshToken string

	// AccessToken optionally seeds the cache with a pre-issued bearer
	// token. No expiry timer is armed for a seeded token, since the
	// instance never declared its remaining lifetime; it is trusted
	// until a grant replaces it.
	AccessToken string

	// OnRefresh, if set, observes every issued token pair.
	OnRefresh RefreshFunc

	// HTTPClient is used for all requests. If nil, http.DefaultClient.
	HTTPClient *http.Client

	// Clock drives token expiry. If nil, clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Authenticator owns the credential state: the grant mode, the cached
// access token, and the pending expiry timer. Safe for concurrent use;
// overlapping GetAccessToken calls are serialized so an in-flight
// refresh is never duplicated.
type Authenticator struct {
	clientURL  string
	tokenURL   string
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
	onRefresh  RefreshFunc

	mu           sync.Mutex
	grantType    string // "password" or "refresh_token"
	credentials  *Credentials
	refreshToken string
	accessToken  string
	tokenKind    string
	expireTimer  *clock.Timer
}

// New creates an Authenticator. Either Credentials or RefreshToken
// must be supplied (an AccessToken seed alone cannot survive expiry).
func New(config Config) (*Authenticator, error) {
	if config.InstanceURL == "" {
		return nil, fmt.Errorf("auth: InstanceURL is required")
	}
	if config.Credentials == nil && config.RefreshToken == "" {
		return nil, fmt.Errorf("auth: either Credentials or RefreshToken is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := strings.TrimRight(config.InstanceURL, "/")
	a := &Authenticator{
		clientURL:  base + "/api/v1/oauth-clients/local",
		tokenURL:   base + "/api/v1/users/token",
		httpClient: httpClient,
		clock:      clk,
		logger:     logger,
		onRefresh:  config.OnRefresh,
	}

	if config.RefreshToken != "" {
		a.grantType = "refresh_token"
		a.refreshToken = config.RefreshToken
		if config.AccessToken != "" {
			a.accessToken = config.AccessToken
			a.tokenKind = "Bearer"
		}
	} else {
		a.grantType = "password"
		a.credentials = config.Credentials
	}
	return a, nil
}

// oauthClient is the response of the client-registration endpoint.
type oauthClient struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// tokenResponse is the response of the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// GetAccessToken returns a valid bearer token, reusing the cached one
// when it has not expired. A cache miss performs the full exchange:
// client discovery, then the grant matching the current mode. On
// success the authenticator caches the token, schedules its
// invalidation after the declared lifetime, rotates the refresh
// credential, notifies the refresh observer, and switches permanently
// to refresh_token mode.
//
// No retry is attempted; a failed exchange leaves the state unchanged
// and the caller decides whether to call again.
func (a *Authenticator) GetAccessToken(ctx context.Context) (Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && a.tokenKind != "" {
		return Token{AccessToken: a.accessToken, Kind: a.tokenKind}, nil
	}

	client, err := a.discoverClient(ctx)
	if err != nil {
		return Token{}, err
	}

	form := url.Values{
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
		"grant_type":    {a.grantType},
	}
	if a.grantType == "password" {
		form.Set("username", a.credentials.Username)
		form.Set("password", a.credentials.Password)
	} else {
		form.Set("refresh_token", a.refreshToken)
	}

	grant, err := a.requestGrant(ctx, form)
	if err != nil {
		return Token{}, err
	}

	a.accessToken = grant.AccessToken
	a.tokenKind = grant.TokenType
	a.refreshToken = grant.RefreshToken
	a.scheduleExpiry(grant.ExpiresIn)
	// The refresh credential now supersedes stored credentials, even
	// when this exchange used the password grant.
	a.grantType = "refresh_token"

	a.logger.Debug("obtained access token", "kind", grant.TokenType, "expires_in", grant.ExpiresIn)

	if a.onRefresh != nil {
		a.onRefresh(grant.AccessToken, grant.RefreshToken, grant.ExpiresIn)
	}
	return Token{AccessToken: grant.AccessToken, Kind: grant.TokenType}, nil
}

// GetRefreshToken returns the current refresh credential, performing a
// full grant exchange first when none is cached yet (possible only in
// password mode before the first login).
func (a *Authenticator) GetRefreshToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	cached := a.refreshToken
	a.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	if _, err := a.GetAccessToken(ctx); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshToken, nil
}

// discoverClient fetches the instance's local OAuth client pair.
func (a *Authenticator) discoverClient(ctx context.Context) (oauthClient, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, a.clientURL, nil)
	if err != nil {
		return oauthClient{}, fmt.Errorf("auth: %w: building request: %w", ErrClientDiscovery, err)
	}
	response, err := a.httpClient.Do(request)
	if err != nil {
		return oauthClient{}, fmt.Errorf("auth: %w: %w", ErrClientDiscovery, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return oauthClient{}, fmt.Errorf("auth: %w: status %d: %s",
			ErrClientDiscovery, response.StatusCode, netutil.ErrorBody(response.Body))
	}

	var client oauthClient
	if err := netutil.DecodeResponse(response.Body, &client); err != nil {
		return oauthClient{}, fmt.Errorf("auth: %w: %w", ErrClientDiscovery, err)
	}
	return client, nil
}

// requestGrant submits one form-encoded grant to the token endpoint.
func (a *Authenticator) requestGrant(ctx context.Context, form url.Values) (tokenResponse, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("auth: %w: building request: %w", ErrLogin, err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := a.httpClient.Do(request)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("auth: %w: %w", ErrLogin, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return tokenResponse{}, fmt.Errorf("auth: %w: status %d: %s",
			ErrLogin, response.StatusCode, netutil.ErrorBody(response.Body))
	}

	var grant tokenResponse
	if err := netutil.DecodeResponse(response.Body, &grant); err != nil {
		return tokenResponse{}, fmt.Errorf("auth: %w: %w", ErrLogin, err)
	}
	return grant, nil
}

// scheduleExpiry arms the token invalidation timer, replacing any
// pending one so at most a single timer is ever armed. When it fires,
// the cached token and kind are cleared exactly once, forcing the next
// GetAccessToken through a refresh round-trip.
//
// Caller must hold a.mu.
func (a *Authenticator) scheduleExpiry(seconds int) {
	if a.expireTimer != nil {
		a.expireTimer.Stop()
	}
	if seconds <= 0 {
		// A non-positive lifetime means the token is already dead on
		// arrival. Clear synchronously instead of arming a timer whose
		// callback would need the lock this caller holds.
		a.accessToken = ""
		a.tokenKind = ""
		a.expireTimer = nil
		return
	}
	lifetime := time.Duration(seconds) * time.Second
	a.expireTimer = a.clock.AfterFunc(lifetime, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.accessToken = ""
		a.tokenKind = ""
		a.logger.Debug("access token expired", "lifetime", lifetime)
	})
}
