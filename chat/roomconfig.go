// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/tidwall/jsonc"

	"github.com/peertube-go/livechat/lib/netutil"
)

// RoomConfig is the client bootstrap configuration the livechat plugin
// embeds in its room page.
type RoomConfig struct {
	// Room is the full room JID, "uuid@muc.domain".
	Room string `json:"room"`

	// LocalAnonymousJID is the domain anonymous connections
	// authenticate against.
	LocalAnonymousJID string `json:"localAnonymousJID"`

	// LocalWebsocketServiceURL is the websocket endpoint, either
	// absolute or host-relative.
	LocalWebsocketServiceURL string `json:"localWebsocketServiceUrl"`

	// AuthenticationURL exchanges a PeerTube access token for XMPP
	// credentials.
	AuthenticationURL string `json:"authenticationUrl"`

	// CustomEmojisURL serves the room's emoji catalog, when the room
	// has one.
	CustomEmojisURL string `json:"customEmojisUrl"`

	ForceReadonly bool `json:"forceReadonly"`
}

// initConverseRe captures the settings object literal passed to the
// page's initConverse call. The literal is JavaScript, not strict
// JSON: it carries comments and trailing commas, hence the jsonc
// cleanup before decoding.
var initConverseRe = regexp.MustCompile(`(?s)initConverse\(\s*(\{.*?\})\s*\)`)

// fetchRoomConfig downloads the room page and extracts the embedded
// configuration.
func fetchRoomConfig(ctx context.Context, client *http.Client, pageURL string) (RoomConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return RoomConfig{}, fmt.Errorf("%w: building request: %w", ErrRoomMetadata, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return RoomConfig{}, fmt.Errorf("%w: fetching %s: %w", ErrRoomMetadata, pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RoomConfig{}, fmt.Errorf("%w: %s returned %s: %s",
			ErrRoomMetadata, pageURL, resp.Status, netutil.ErrorBody(resp.Body))
	}
	page, err := netutil.ReadResponse(resp.Body)
	if err != nil {
		return RoomConfig{}, fmt.Errorf("%w: reading room page: %w", ErrRoomMetadata, err)
	}

	match := initConverseRe.FindSubmatch(page)
	if match == nil {
		return RoomConfig{}, fmt.Errorf("%w: no initConverse settings in room page", ErrRoomMetadata)
	}
	var config RoomConfig
	if err := json.Unmarshal(jsonc.ToJSON(match[1]), &config); err != nil {
		return RoomConfig{}, fmt.Errorf("%w: decoding initConverse settings: %w", ErrRoomMetadata, err)
	}
	if config.Room == "" || config.LocalWebsocketServiceURL == "" {
		return RoomConfig{}, fmt.Errorf("%w: initConverse settings incomplete", ErrRoomMetadata)
	}
	return config, nil
}
