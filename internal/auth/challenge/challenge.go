// Package challenge models the single-use random value a ceremony is bound to.
package challenge

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// DefaultTTL bounds how long a client has to complete a ceremony step.
const DefaultTTL = 360 * time.Second

// valueBytes is the entropy of a generated challenge value.
const valueBytes = 32

// Challenge is an expiring random value bound to one ceremony. It is never
// stored server-side; it travels inside the signed session token and is
// invalidated by rotating that token.
type Challenge struct {
	Value                string    `json:"value"`
	IssuedAt             time.Time `json:"iat"`
	ExpiresAt            time.Time `json:"exp"`
	AllowedCredentialIDs []string  `json:"allowed_credential_ids,omitempty"`
}

// New wraps a verifier-issued challenge value with an expiry and an optional
// credential binding. An empty binding means any credential may satisfy it.
func New(value string, now time.Time, ttl time.Duration, allowedCredentialIDs []string) Challenge {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	issued := now.UTC()
	return Challenge{
		Value:                value,
		IssuedAt:             issued,
		ExpiresAt:            issued.Add(ttl),
		AllowedCredentialIDs: allowedCredentialIDs,
	}
}

// NewValue generates a fresh URL-safe random challenge value.
func NewValue() (string, error) {
	raw := make([]byte, valueBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Valid reports whether the challenge can still be consumed at now.
func (c Challenge) Valid(now time.Time) bool {
	if c.Value == "" {
		return false
	}
	return now.UTC().Before(c.ExpiresAt)
}

// Allows reports whether the given credential id can satisfy this challenge.
func (c Challenge) Allows(credentialID string) bool {
	if len(c.AllowedCredentialIDs) == 0 {
		return true
	}
	for _, allowed := range c.AllowedCredentialIDs {
		if allowed == credentialID {
			return true
		}
	}
	return false
}
