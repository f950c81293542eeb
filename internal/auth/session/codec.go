package session

import (
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jimmythecoder/passkeys/internal/auth/challenge"
	apperrors "github.com/jimmythecoder/passkeys/internal/platform/errors"
)

var (
	// ErrTokenInvalid indicates a token whose signature or shape cannot be trusted.
	ErrTokenInvalid = apperrors.New(apperrors.CodeTokenInvalid, "session token is invalid")
	// ErrTokenExpired indicates a token past its expiry.
	ErrTokenExpired = apperrors.New(apperrors.CodeTokenExpired, "session token is expired")
	// ErrIssuerMismatch indicates a token minted for a different issuer.
	ErrIssuerMismatch = apperrors.New(apperrors.CodeTokenIssuerMismatch, "session token issuer mismatch")
	// ErrAudienceMismatch indicates a token minted for a different audience.
	ErrAudienceMismatch = apperrors.New(apperrors.CodeTokenAudienceMismatch, "session token audience mismatch")
)

// PendingUser is the candidate identity while a ceremony is in flight. For
// registration it carries the not-yet-persisted account so the verify step
// can create the record; for authentication only the id is set.
type PendingUser struct {
	ID          string   `json:"id"`
	UserName    string   `json:"user_name,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// Claims is the immutable session state carried between requests. "Mutating"
// the session means building a new Claims value and re-issuing the token.
type Claims struct {
	// Subject is the authenticated user id. Set only once signed in.
	Subject string
	// PendingUser is the candidate identity while a ceremony is in flight.
	PendingUser *PendingUser
	// Roles are authorization roles, present only once signed in.
	Roles []string
	// SignedIn marks a completed authentication or registration.
	SignedIn bool
	// Challenge is the active ceremony challenge, if any.
	Challenge *challenge.Challenge
}

// Anonymous reports whether the claims carry no session state at all.
func (c Claims) Anonymous() bool {
	return !c.SignedIn && c.Subject == "" && c.PendingUser == nil && c.Challenge == nil
}

// tokenClaims is the internal claims type used for JWT signing and parsing.
type tokenClaims struct {
	jwt.RegisteredClaims
	PendingUser *PendingUser         `json:"pending_user,omitempty"`
	Roles       []string             `json:"roles,omitempty"`
	SignedIn    bool                 `json:"signed_in,omitempty"`
	Challenge   *challenge.Challenge `json:"challenge,omitempty"`
}

// Codec converts between Claims and a signed compact token. It is a pure
// transform over the configured key material and never touches storage.
type Codec struct {
	cfg Config
}

// NewCodec validates the configuration and returns a codec.
func NewCodec(cfg Config) (*Codec, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, fmt.Errorf("session issuer is required")
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, fmt.Errorf("session audience is required")
	}
	if len(cfg.SigningKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("session signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	if len(cfg.VerificationKeys) == 0 {
		return nil, fmt.Errorf("at least one session verification key is required")
	}
	for _, key := range cfg.VerificationKeys {
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("session verification key must be %d bytes", ed25519.PublicKeySize)
		}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Codec{cfg: cfg}, nil
}

// Issue signs the claims into a compact token.
//
// The token expiry is stretched to cover any embedded challenge expiry, so a
// challenge never becomes unreachable before it expires on its own.
func (c *Codec) Issue(claims Claims) (string, time.Time, error) {
	now := c.cfg.Now().UTC()
	expiresAt := now.Add(c.cfg.TTL)
	if claims.Challenge != nil && claims.Challenge.ExpiresAt.After(expiresAt) {
		expiresAt = claims.Challenge.ExpiresAt
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{c.cfg.Audience},
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		PendingUser: claims.PendingUser,
		Roles:       claims.Roles,
		SignedIn:    claims.SignedIn,
		Challenge:   claims.Challenge,
	})

	signed, err := token.SignedString(c.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses the token against the trusted key set and returns its claims.
//
// Callers at the HTTP boundary treat every failure as "no session": a forged
// or expired cookie degrades to a fresh ceremony, never a fatal error.
func (c *Codec) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenInvalid
	}

	keySet := jwt.VerificationKeySet{}
	for _, key := range c.cfg.VerificationKeys {
		keySet.Keys = append(keySet.Keys, key)
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return keySet, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}

	if parsed.Issuer == "" || parsed.Issuer != c.cfg.Issuer {
		return Claims{}, ErrIssuerMismatch
	}
	if !audienceContains(parsed.Audience, c.cfg.Audience) {
		return Claims{}, ErrAudienceMismatch
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, ErrTokenInvalid
	}

	now := c.cfg.Now().UTC()
	if !parsed.ExpiresAt.Time.UTC().After(now) {
		return Claims{}, ErrTokenExpired
	}

	return Claims{
		Subject:     parsed.Subject,
		PendingUser: parsed.PendingUser,
		Roles:       parsed.Roles,
		SignedIn:    parsed.SignedIn,
		Challenge:   parsed.Challenge,
	}, nil
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}
