// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers shared by the auth and chat
// packages.
//
// Every response body read is bounded at MaxResponseSize so a
// misbehaving instance cannot exhaust memory. The helpers are meant for
// the JSON and HTML endpoints this client talks to (OAuth client
// registration, token grants, the room configuration page, the emoji
// catalog), not for streaming downloads.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds response body reads: 16 MB. Real responses
// from a PeerTube instance are orders of magnitude smaller; the limit
// only exists to cap pathological ones.
const MaxResponseSize int64 = 16 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes.
// Use instead of io.ReadAll for HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON response body (bounded) and decodes it
// into v. Replaces the io.ReadAll + json.Unmarshal pattern.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body for inclusion in an
// error message. Read errors are ignored; a partial body is still
// useful diagnostics.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
