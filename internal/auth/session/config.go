// Package session signs and verifies the stateless session token.
package session

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jimmythecoder/passkeys/internal/platform/config"
)

// DefaultTTL is the session token lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// sessionEnv holds raw env values before post-parse validation.
type sessionEnv struct {
	Issuer           string        `env:"PASSKEYS_SESSION_ISSUER"            envDefault:"passkeys"`
	Audience         string        `env:"PASSKEYS_SESSION_AUDIENCE"          envDefault:"passkeys-api"`
	TTL              time.Duration `env:"PASSKEYS_SESSION_TTL"               envDefault:"24h"`
	SigningKey       string        `env:"PASSKEYS_SESSION_SIGNING_KEY"`
	VerificationKeys []string      `env:"PASSKEYS_SESSION_VERIFICATION_KEYS" envSeparator:","`
}

// Config defines how session tokens are signed and verified.
type Config struct {
	Issuer   string
	Audience string
	TTL      time.Duration
	// SigningKey signs freshly issued tokens.
	SigningKey ed25519.PrivateKey
	// VerificationKeys is the trusted key set. It always contains the signing
	// key's public half; extra keys keep sessions from a previous signing key
	// valid across rotation.
	VerificationKeys []ed25519.PublicKey
	Now              func() time.Time
}

// LoadConfigFromEnv reads session token configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw sessionEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("load session config: %w", err)
	}

	signingKey := strings.TrimSpace(raw.SigningKey)
	if signingKey == "" {
		return Config{}, fmt.Errorf("PASSKEYS_SESSION_SIGNING_KEY is required")
	}
	keyBytes, err := decodeBase64(signingKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode session signing key: %w", err)
	}

	var privateKey ed25519.PrivateKey
	switch len(keyBytes) {
	case ed25519.SeedSize:
		privateKey = ed25519.NewKeyFromSeed(keyBytes)
	case ed25519.PrivateKeySize:
		privateKey = ed25519.PrivateKey(keyBytes)
	default:
		return Config{}, fmt.Errorf("session signing key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}

	verificationKeys := []ed25519.PublicKey{privateKey.Public().(ed25519.PublicKey)}
	for _, encoded := range raw.VerificationKeys {
		encoded = strings.TrimSpace(encoded)
		if encoded == "" {
			continue
		}
		publicBytes, err := decodeBase64(encoded)
		if err != nil {
			return Config{}, fmt.Errorf("decode session verification key: %w", err)
		}
		if len(publicBytes) != ed25519.PublicKeySize {
			return Config{}, fmt.Errorf("session verification key must be %d bytes", ed25519.PublicKeySize)
		}
		verificationKeys = append(verificationKeys, ed25519.PublicKey(publicBytes))
	}

	if now == nil {
		now = time.Now
	}
	ttl := raw.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return Config{
		Issuer:           strings.TrimSpace(raw.Issuer),
		Audience:         strings.TrimSpace(raw.Audience),
		TTL:              ttl,
		SigningKey:       privateKey,
		VerificationKeys: verificationKeys,
		Now:              now,
	}, nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
