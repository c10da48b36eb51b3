// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// The timed behaviors in this module (access-token invalidation
// after the server-declared lifetime, and the recurring keep-alive
// probes) accept a Clock instead of calling time.AfterFunc or
// time.NewTicker directly. Production code injects Real(); tests inject
// Fake() and drive time forward with Advance, so token-expiry and
// keep-alive tests run deterministically in microseconds.
//
// Wiring pattern:
//
//	a := auth.New(auth.Config{Clock: clock.Real(), ...})
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	a := auth.New(auth.Config{Clock: c, ...})
//	// ... obtain a token with expires_in = 3600 ...
//	c.Advance(time.Hour) // the cached token is now cleared
package clock
