// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

// livechat-viewer is an interactive terminal UI for a PeerTube
// livechat room: scrolling message history on top, an input line at
// the bottom. Enter sends; Esc or Ctrl+C leaves the room.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/peertube-go/livechat/chat"
	"github.com/peertube-go/livechat/config"
	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	if err := run(); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "livechat-viewer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("livechat-viewer", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to livechat.yaml (default: $LIVECHAT_CONFIG)")
	instance := flagSet.String("instance", "", "PeerTube host, no scheme")
	room := flagSet.String("room", "", "room identifier, typically the video UUID")
	nickname := flagSet.String("nickname", "", "occupant nickname")
	httpOnly := flagSet.Bool("http-only", false, "use cleartext schemes (test instances)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *instance != "" {
		cfg.Instance = *instance
	}
	if *room != "" {
		cfg.Room = *room
	}
	if *nickname != "" {
		cfg.Nickname = *nickname
	}
	if *httpOnly {
		cfg.HTTPOnly = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// The alternate screen owns the terminal; logs would corrupt it.
	logger := slog.New(slog.DiscardHandler)

	session, err := chat.NewSession(chat.SessionConfig{
		Instance:          cfg.Instance,
		Room:              cfg.Room,
		Nickname:          cfg.Nickname,
		HTTPOnly:          cfg.HTTPOnly,
		KeepAliveInterval: cfg.KeepAliveInterval,
		RequestTimeout:    cfg.RequestTimeout,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	if err := session.Start(context.Background()); err != nil {
		return err
	}
	defer session.Stop()

	program := tea.NewProgram(newModel(session), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("LIVECHAT_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}
