// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Alga-agent runs on the supported device. It holds the device's
// enrolled Ed25519 key, keeps a signaling connection to the sessiond,
// answers consent prompts, and serves active sessions: screen capture
// and input injection through the platform backend, the interactive
// shell over a pty, and the privilege bridge to the elevated helper
// when the desktop goes secure.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/signaling"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// config is the agent YAML configuration.
type config struct {
	// SessiondURL is the signaling WebSocket endpoint
	// (wss://host/v1/agent).
	SessiondURL string `yaml:"sessiond_url"`

	// DeviceID is this device's enrolled identifier.
	DeviceID string `yaml:"device_id"`

	// KeyFile holds the device's Ed25519 seed, hex encoded.
	KeyFile string `yaml:"key_file"`

	// ServerKey is the sessiond's Ed25519 public key, hex encoded.
	// Every inbound envelope must verify against it.
	ServerKey string `yaml:"server_key"`

	// AutoConsent accepts session requests without prompting. For
	// unattended servers; interactive hosts leave it false and the
	// desktop-side prompt (outside this binary) answers through the
	// local control socket.
	AutoConsent bool `yaml:"auto_consent"`

	// Display selects the capture target (platform-specific; empty
	// means default).
	Display string `yaml:"display"`

	// PrivhelperSocket is the elevated helper's local socket. Empty
	// disables privilege bridging.
	PrivhelperSocket string `yaml:"privhelper_socket"`
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var c config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if c.SessiondURL == "" || c.DeviceID == "" || c.KeyFile == "" || c.ServerKey == "" {
		return nil, fmt.Errorf("config requires sessiond_url, device_id, key_file, server_key")
	}
	return &c, nil
}

func run() error {
	var (
		configPath string
		logLevel   string
	)
	pflag.StringVar(&configPath, "config", "/etc/alga/agent.yaml", "path to the agent config file")
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

	seedHex, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("reading device key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(seedHex)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return fmt.Errorf("device key file must hold a hex ed25519 seed")
	}
	deviceKey := ed25519.NewKeyFromSeed(seed)

	serverKeyBytes, err := hex.DecodeString(cfg.ServerKey)
	if err != nil || len(serverKeyBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("server_key must be a hex ed25519 public key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := newAgent(cfg, deviceKey, clock.Real(), logger)
	client := signaling.NewClient(
		cfg.SessiondURL,
		cfg.DeviceID,
		deviceKey,
		ed25519.PublicKey(serverKeyBytes),
		agent.handleEnvelope,
		clock.Real(),
		logger,
	)
	agent.client = client

	logger.Info("agent starting", "device", cfg.DeviceID, "sessiond", cfg.SessiondURL)
	err = client.Run(ctx)
	agent.shutdown()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
