// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"fmt"
	"net/http"

	"github.com/peertube-go/livechat/lib/netutil"
)

// fetchCustomEmojis downloads the room's emoji catalog and returns it
// keyed by short name (":name:" form). An empty catalog URL means the
// room has none; that is not an error.
func fetchCustomEmojis(ctx context.Context, client *http.Client, catalogURL string) (map[string]string, error) {
	if catalogURL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, catalogURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrEmojiCatalog, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %w", ErrEmojiCatalog, catalogURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s: %s",
			ErrEmojiCatalog, catalogURL, resp.Status, netutil.ErrorBody(resp.Body))
	}

	var catalog struct {
		CustomEmojis []struct {
			ShortName string `json:"sn"`
			URL       string `json:"url"`
		} `json:"customEmojis"`
	}
	if err := netutil.DecodeResponse(resp.Body, &catalog); err != nil {
		return nil, fmt.Errorf("%w: decoding catalog: %w", ErrEmojiCatalog, err)
	}
	emojis := make(map[string]string, len(catalog.CustomEmojis))
	for _, emoji := range catalog.CustomEmojis {
		if emoji.ShortName == "" || emoji.URL == "" {
			continue
		}
		emojis[emoji.ShortName] = emoji.URL
	}
	return emojis, nil
}
