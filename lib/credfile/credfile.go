// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

// Package credfile persists the token pair issued by a grant exchange.
//
// The authenticator hands every freshly issued access/refresh pair to
// an observer callback; this package is the standard implementation of
// that observer. State is stored as a single CBOR file written
// atomically (temporary file, fsync, rename) so a crash mid-write
// never leaves a corrupt credential file. CBOR uses Core Deterministic
// Encoding: the same credentials always produce identical bytes.
//
// A refresh token is a long-lived secret. The file is created with
// mode 0600 and the parent directory must already exist.
package credfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// State is the persisted outcome of the most recent grant exchange.
type State struct {
	// AccessToken is the short-lived bearer token. It is persisted so
	// a process restarting within the token lifetime can skip one
	// grant round-trip, but it may already be expired when read back.
	AccessToken string `cbor:"access_token"`

	// RefreshToken is the durable credential. Each grant exchange
	// rotates it; only the most recently written value is valid.
	RefreshToken string `cbor:"refresh_token"`

	// ObtainedAt is when the grant exchange completed.
	ObtainedAt time.Time `cbor:"obtained_at"`

	// ExpiresIn is the server-declared access-token lifetime in
	// seconds, counted from ObtainedAt.
	ExpiresIn int `cbor:"expires_in"`
}

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items.
var encMode cbor.EncMode

// decMode accepts standard CBOR; unknown fields are ignored for
// forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("credfile: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("credfile: CBOR decoder initialization failed: " + err.Error())
	}
}

// Write atomically replaces the credential file at path with state.
// The data is written to a temporary file in the same directory,
// fsynced, and renamed into place, so readers never observe a partial
// write.
func Write(path string, state State) error {
	data, err := encMode.Marshal(state)
	if err != nil {
		return fmt.Errorf("credfile: encoding state: %w", err)
	}

	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("credfile: creating temporary file: %w", err)
	}

	// Write, sync, close, in that order. On any failure remove the
	// temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("credfile: writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("credfile: syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("credfile: closing temporary file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("credfile: renaming into place: %w", err)
	}
	return nil
}

// Read loads the credential file at path. Returns (State{}, false, nil)
// when the file does not exist: a missing file is the normal first-run
// condition, not an error.
func Read(path string) (State, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("credfile: reading %s: %w", path, err)
	}

	var state State
	if err := decMode.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("credfile: decoding %s: %w", path, err)
	}
	return state, true, nil
}
