// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"strings"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	var out struct {
		ClientID string `json:"client_id"`
	}
	err := DecodeResponse(strings.NewReader(`{"client_id":"abc"}`), &out)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if out.ClientID != "abc" {
		t.Errorf("client_id = %q, want %q", out.ClientID, "abc")
	}
}

func TestDecodeResponseInvalidJSON(t *testing.T) {
	var out map[string]any
	if err := DecodeResponse(strings.NewReader("<html>"), &out); err == nil {
		t.Fatal("expected error for non-JSON body")
	}
}

func TestErrorBodyNeverFails(t *testing.T) {
	if got := ErrorBody(strings.NewReader("boom")); got != "boom" {
		t.Errorf("ErrorBody = %q, want %q", got, "boom")
	}
}
