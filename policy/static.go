// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nine-minds/alga-remote/lib/clock"
	"github.com/nine-minds/alga-remote/lib/token"
)

// Compile-time interface check.
var _ Service = (*Static)(nil)

// Static is a file-backed policy Service for single-tenant deployments
// and tests. Grants are evaluated from a YAML document mapping
// (principal, device pattern) pairs to capability lists. Operator
// credentials are verified as lib/token operator tokens against the
// configured identity-provider public key.
//
// Multi-tenant deployments replace this with a client for the hosted
// policy service; the session core only sees the Service interface.
type Static struct {
	signingKey ed25519.PublicKey
	grants     []grantRule
	clock      clock.Clock
}

// staticFile is the YAML schema of a policy file.
type staticFile struct {
	// IdentityKey is the hex-encoded Ed25519 public key of the
	// operator token issuer.
	IdentityKey string      `yaml:"identity_key"`
	Grants      []grantRule `yaml:"grants"`
}

type grantRule struct {
	Principal      string       `yaml:"principal"`
	Device         string       `yaml:"device"` // exact ID or "*"
	Capabilities   []Capability `yaml:"capabilities"`
	RequireConsent *bool        `yaml:"require_consent"` // default true
	MaxDuration    yamlDuration `yaml:"max_duration"`
	RetryCooldown  yamlDuration `yaml:"retry_cooldown"`
	Windows        []Window     `yaml:"windows"`
}

// yamlDuration accepts Go duration strings ("30s", "2h") in YAML.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("policy: invalid duration %q: %w", raw, err)
	}
	*d = yamlDuration(parsed)
	return nil
}

// LoadStatic parses a YAML policy file.
func LoadStatic(path string, clk clock.Clock) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: reading %s: %w", path, err)
	}
	return ParseStatic(data, clk)
}

// ParseStatic parses YAML policy bytes.
func ParseStatic(data []byte, clk clock.Clock) (*Static, error) {
	var file staticFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("policy: parsing policy file: %w", err)
	}

	key, err := hex.DecodeString(file.IdentityKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("policy: identity_key must be a %d-byte hex Ed25519 public key", ed25519.PublicKeySize)
	}

	for i, rule := range file.Grants {
		if rule.Principal == "" || rule.Device == "" {
			return nil, fmt.Errorf("policy: grant %d missing principal or device", i)
		}
		if len(rule.Capabilities) == 0 {
			return nil, fmt.Errorf("policy: grant %d has no capabilities", i)
		}
	}

	return &Static{
		signingKey: ed25519.PublicKey(key),
		grants:     file.Grants,
		clock:      clk,
	}, nil
}

// NewStatic builds a Static directly, for tests and embedding.
func NewStatic(signingKey ed25519.PublicKey, clk clock.Clock) *Static {
	return &Static{signingKey: signingKey, clock: clk}
}

// Grant appends a grant rule. RequireConsent defaults to true unless
// explicitly cleared via the permission it produces.
func (s *Static) Grant(principal, device string, permission Permission) {
	requireConsent := permission.RequireConsent
	capabilities := make([]Capability, 0, len(permission.Capabilities))
	for c := range permission.Capabilities {
		capabilities = append(capabilities, c)
	}
	s.grants = append(s.grants, grantRule{
		Principal:      principal,
		Device:         device,
		Capabilities:   capabilities,
		RequireConsent: &requireConsent,
		MaxDuration:    yamlDuration(permission.MaxDuration),
		RetryCooldown:  yamlDuration(permission.RetryCooldown),
		Windows:        permission.Windows,
	})
}

func (s *Static) Authenticate(credential []byte) (string, error) {
	parsed, err := token.Verify(s.signingKey, credential, s.clock.Now())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthenticateFailed, err)
	}
	return parsed.Subject, nil
}

func (s *Static) GetPermission(principal, deviceID string) (Permission, error) {
	for _, rule := range s.grants {
		if rule.Principal != principal {
			continue
		}
		if rule.Device != "*" && rule.Device != deviceID {
			continue
		}
		requireConsent := true
		if rule.RequireConsent != nil {
			requireConsent = *rule.RequireConsent
		}
		return Permission{
			Capabilities:   NewCapabilitySet(rule.Capabilities...),
			RequireConsent: requireConsent,
			MaxDuration:    time.Duration(rule.MaxDuration),
			Windows:        rule.Windows,
			RetryCooldown:  time.Duration(rule.RetryCooldown),
		}, nil
	}
	return Permission{}, ErrNoPermission
}
