// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

// livechat is a command-line client for PeerTube livechat rooms.
//
// It joins a room, prints events as they arrive, and sends what you
// type on stdin. Lines starting with "/delete " retract a previously
// sent message by its origin id.
//
// Anonymous by default; --username selects an authenticated session.
// The password is prompted for once and a rotating refresh token is
// persisted in the credentials file, so later runs need no prompt.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/peertube-go/livechat/auth"
	"github.com/peertube-go/livechat/chat"
	"github.com/peertube-go/livechat/config"
	"github.com/peertube-go/livechat/lib/credfile"
)

func main() {
	if err := run(); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "livechat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("livechat", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to livechat.yaml (default: $LIVECHAT_CONFIG)")
	instance := flagSet.String("instance", "", "PeerTube host, no scheme")
	room := flagSet.String("room", "", "room identifier, typically the video UUID")
	nickname := flagSet.String("nickname", "", "occupant nickname")
	username := flagSet.String("username", "", "PeerTube account for an authenticated session")
	credentialsFile := flagSet.String("credentials-file", "", "where the token pair is persisted")
	httpOnly := flagSet.Bool("http-only", false, "use cleartext schemes (test instances)")
	logLevel := flagSet.String("log-level", "", "debug, info, warn, or error")
	jsonEvents := flagSet.Bool("json", false, "print events as JSON lines")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyFlag(&cfg.Instance, *instance)
	applyFlag(&cfg.Room, *room)
	applyFlag(&cfg.Nickname, *nickname)
	applyFlag(&cfg.Username, *username)
	applyFlag(&cfg.CredentialsFile, *credentialsFile)
	applyFlag(&cfg.LogLevel, *logLevel)
	if *httpOnly {
		cfg.HTTPOnly = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	sessionConfig := chat.SessionConfig{
		Instance:          cfg.Instance,
		Room:              cfg.Room,
		Nickname:          cfg.Nickname,
		HTTPOnly:          cfg.HTTPOnly,
		KeepAliveInterval: cfg.KeepAliveInterval,
		RequestTimeout:    cfg.RequestTimeout,
		Logger:            logger,
	}
	if cfg.Username != "" {
		if err := configureAuthentication(&sessionConfig, cfg, logger); err != nil {
			return err
		}
	}

	session, err := chat.NewSession(sessionConfig)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Stop()
	go readInput(ctx, session, logger)

	printer := eventPrinter{session: session, json: *jsonEvents}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-session.Events():
			printer.print(event)
		case <-time.After(time.Second):
			// Periodic state check: a stream the server tears down
			// produces no further events.
		}
		if session.State() != chat.StateReady {
			return fmt.Errorf("session ended: %s", session.State())
		}
	}
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

func applyFlag(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func parseLogLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", name)
	}
}

// configureAuthentication wires the credential source: a persisted
// refresh token when one exists, a password prompt otherwise. Either
// way every issued token pair is written back to the credentials file.
func configureAuthentication(sessionConfig *chat.SessionConfig, cfg *config.Config, logger *slog.Logger) error {
	state, found, err := credfile.Read(cfg.CredentialsFile)
	if err != nil {
		return err
	}
	if found && state.RefreshToken != "" {
		sessionConfig.RefreshToken = state.RefreshToken
		if !tokenExpired(state) {
			sessionConfig.AccessToken = state.AccessToken
		}
		logger.Debug("using persisted credentials", "path", cfg.CredentialsFile)
	} else {
		password, err := promptPassword(cfg.Username)
		if err != nil {
			return err
		}
		sessionConfig.Credentials = &auth.Credentials{Username: cfg.Username, Password: password}
	}

	if cfg.CredentialsFile != "" {
		path := cfg.CredentialsFile
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("creating credentials directory: %w", err)
		}
		sessionConfig.OnTokenRefresh = func(accessToken, refreshToken string, expiresInSeconds int) {
			err := credfile.Write(path, credfile.State{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
				ObtainedAt:   time.Now(),
				ExpiresIn:    expiresInSeconds,
			})
			if err != nil {
				logger.Warn("persisting credentials failed", "path", path, "error", err)
			}
		}
	}
	return nil
}

// tokenExpired reports whether the persisted access token is past the
// server-declared lifetime. A one minute margin avoids handing the
// session a token that expires mid-startup.
func tokenExpired(state credfile.State) bool {
	if state.AccessToken == "" || state.ExpiresIn <= 0 {
		return true
	}
	deadline := state.ObtainedAt.Add(time.Duration(state.ExpiresIn) * time.Second)
	return time.Now().After(deadline.Add(-time.Minute))
}

func promptPassword(username string) (string, error) {
	fmt.Fprintf(os.Stderr, "password for %s: ", username)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

// readInput sends stdin lines as messages. "/delete <origin-id>"
// retracts.
func readInput(ctx context.Context, session *chat.Session, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if originID, ok := strings.CutPrefix(line, "/delete "); ok {
			if err := session.Delete(ctx, strings.TrimSpace(originID)); err != nil {
				logger.Error("delete failed", "origin_id", originID, "error", err)
			}
			continue
		}
		if _, err := session.Message(ctx, line); err != nil {
			logger.Error("send failed", "error", err)
		}
	}
}

type eventPrinter struct {
	session *chat.Session
	json    bool
}

func (p eventPrinter) print(event chat.Event) {
	if p.json {
		p.printJSON(event)
		return
	}
	switch e := event.(type) {
	case chat.ReadyEvent:
		self := p.session.Self()
		fmt.Printf("* joined as %s\n", self.Nickname)
	case chat.MessageEvent:
		p.printMessage(e.Message, "")
	case chat.OldMessageEvent:
		p.printMessage(e.Message, " (history)")
	case chat.MessageRemoveEvent:
		if e.Message != nil {
			fmt.Printf("* message by %s deleted: %s\n", p.author(e.Message), e.Message.Body)
		} else {
			fmt.Println("* a message was deleted")
		}
	case chat.PresenceEvent:
		switch {
		case e.Old == nil && e.New.Online:
			fmt.Printf("* %s joined\n", e.New.Nickname)
		case e.Old != nil && e.Old.Online && !e.New.Online:
			fmt.Printf("* %s left\n", e.New.Nickname)
		}
	}
}

func (p eventPrinter) printMessage(message *chat.Message, suffix string) {
	fmt.Printf("%s <%s>%s %s\n",
		message.Time.Local().Format("15:04:05"), p.author(message), suffix, message.Body)
}

func (p eventPrinter) author(message *chat.Message) string {
	if user, ok := p.session.Author(message); ok {
		return user.Nickname
	}
	return message.AuthorID
}

func (p eventPrinter) printJSON(event chat.Event) {
	record := map[string]any{"time": time.Now().Format(time.RFC3339)}
	switch e := event.(type) {
	case chat.ReadyEvent:
		record["type"] = "ready"
	case chat.MessageEvent:
		record["type"] = "message"
		record["message"] = e.Message
	case chat.OldMessageEvent:
		record["type"] = "old_message"
		record["message"] = e.Message
	case chat.MessageRemoveEvent:
		record["type"] = "message_remove"
		if e.Message != nil {
			record["message"] = e.Message
		}
	case chat.PresenceEvent:
		record["type"] = "presence"
		record["user"] = e.New
		if e.Old != nil {
			record["previous"] = e.Old
		}
	}
	if data, err := json.Marshal(record); err == nil {
		fmt.Println(string(data))
	}
}
