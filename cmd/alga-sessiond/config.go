// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nine-minds/alga-remote/identity"
)

// config is the sessiond YAML configuration.
type config struct {
	// ListenAddr is the HTTP/WebSocket bind address.
	ListenAddr string `yaml:"listen_addr"`

	// SigningKeyFile holds the sessiond's Ed25519 seed, hex encoded.
	// The key tags hub-originated envelopes; agents and engineer
	// clients pin the corresponding public key.
	SigningKeyFile string `yaml:"signing_key_file"`

	// PolicyFile is the static policy (grants + identity provider
	// key).
	PolicyFile string `yaml:"policy_file"`

	// DevicesFile lists the enrolled devices.
	DevicesFile string `yaml:"devices_file"`

	// AuditLog is the append-only JSON-lines audit file. Empty keeps
	// audit on the structured log only.
	AuditLog string `yaml:"audit_log"`

	TURN turnConfig `yaml:"turn"`

	ConsentTimeout     duration `yaml:"consent_timeout"`
	HeartbeatGrace     duration `yaml:"heartbeat_grace"`
	NegotiationTimeout duration `yaml:"negotiation_timeout"`
}

// duration accepts Go duration strings ("30s", "2h") in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

type turnConfig struct {
	// Secret is the coturn static-auth-secret.
	Secret string `yaml:"secret"`
	// URIs are the TURN endpoints handed to peers.
	URIs []string `yaml:"uris"`
	// STUNURIs are credential-free STUN endpoints.
	STUNURIs []string `yaml:"stun_uris"`
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
	if c.ListenAddr == "" {
		c.ListenAddr = ":8443"
	}
	if c.SigningKeyFile == "" {
		return nil, fmt.Errorf("config missing signing_key_file")
	}
	if c.PolicyFile == "" {
		return nil, fmt.Errorf("config missing policy_file")
	}
	if c.DevicesFile == "" {
		return nil, fmt.Errorf("config missing devices_file")
	}
	return &c, nil
}

// loadSigningKey reads a hex-encoded Ed25519 seed.
func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed has %d bytes, need %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// deviceFile is the enrolled-device registry format.
type deviceFile struct {
	Devices []deviceEntry `yaml:"devices"`
}

type deviceEntry struct {
	ID        string `yaml:"id"`
	PublicKey string `yaml:"public_key"` // hex
	Host      string `yaml:"host"`       // windows | darwin | linux
	Tenant    string `yaml:"tenant"`
}

// loadDevices parses the registry into a populated memory store.
func loadDevices(path string) (*identity.MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading devices file: %w", err)
	}
	var file deviceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing devices file: %w", err)
	}

	store := identity.NewMemoryStore()
	for _, entry := range file.Devices {
		if entry.ID == "" {
			return nil, fmt.Errorf("device entry missing id")
		}
		key, err := hex.DecodeString(entry.PublicKey)
		if err != nil || len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("device %s: bad public key", entry.ID)
		}
		host := identity.HostClass(entry.Host)
		switch host {
		case identity.HostWindows, identity.HostDarwin, identity.HostLinux:
		default:
			return nil, fmt.Errorf("device %s: unknown host class %q", entry.ID, entry.Host)
		}
		store.Add(&identity.Device{
			ID:        entry.ID,
			PublicKey: ed25519.PublicKey(key),
			HostClass: host,
			Tenant:    entry.Tenant,
		})
	}
	return store, nil
}
