// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Alga-sessiond is the server side of the remote-support core: it
// terminates the signaling WebSockets for agents and engineer clients,
// runs the session state machine with its consent and activity
// deadlines, issues short-lived TURN relay credentials, and appends
// the audit stream.
//
// Media never flows through this process. Once a session is active the
// peers negotiate a WebRTC transport between themselves; sessiond only
// relays the SDP and ICE envelopes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nine-minds/alga-remote/audit"
	"github.com/nine-minds/alga-remote/identity"
	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/policy"
	"github.com/nine-minds/alga-remote/relay"
	"github.com/nine-minds/alga-remote/session"
	"github.com/nine-minds/alga-remote/signaling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		logLevel   string
	)
	pflag.StringVar(&configPath, "config", "/etc/alga/sessiond.yaml", "path to the sessiond config file")
	pflag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", logLevel)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	signingKey, err := loadSigningKey(cfg.SigningKeyFile)
	if err != nil {
		return err
	}

	clk := clock.Real()

	devices, err := loadDevices(cfg.DevicesFile)
	if err != nil {
		return err
	}
	// The cache keeps the per-envelope key lookups off the store.
	ids := identity.NewCachedStore(devices, time.Minute, clk)

	pol, err := policy.LoadStatic(cfg.PolicyFile, clk)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}

	var issuer relay.Issuer
	if cfg.TURN.Secret != "" {
		issuer = relay.NewTURNIssuer(cfg.TURN.URIs, cfg.TURN.STUNURIs, []byte(cfg.TURN.Secret), clk)
	} else {
		logger.Warn("no TURN secret configured, sessions will be direct-only")
		issuer = &relay.StaticIssuer{}
	}

	var sink audit.Sink = audit.LogSink{Logger: logger}
	if cfg.AuditLog != "" {
		fileSink, err := audit.NewFileSink(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer fileSink.Close()
		sink = audit.Fanout{sink, fileSink}
	}

	hub := signaling.NewHub(ids, sink, clk, logger, signingKey, signaling.Config{})
	defer hub.Close()

	manager := session.NewManager(ids, pol, issuer, sink, hub, clk, logger, session.Config{
		ConsentTimeout:     time.Duration(cfg.ConsentTimeout),
		HeartbeatGrace:     time.Duration(cfg.HeartbeatGrace),
		NegotiationTimeout: time.Duration(cfg.NegotiationTimeout),
	})
	defer manager.Close()
	hub.SetManager(manager)

	mux := http.NewServeMux()
	signaling.NewServer(hub, ids, pol, logger).Register(mux)
	(&api{manager: manager, policy: pol, logger: logger}).register(mux)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSockets hold the response open.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	logger.Info("sessiond listening", "addr", cfg.ListenAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
