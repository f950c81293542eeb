package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jimmythecoder/passkeys/internal/auth/challenge"
)

func testCodec(t *testing.T, now time.Time) (*Codec, ed25519.PrivateKey) {
	t.Helper()
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	codec, err := NewCodec(Config{
		Issuer:           "passkeys",
		Audience:         "passkeys-api",
		TTL:              time.Hour,
		SigningKey:       privateKey,
		VerificationKeys: []ed25519.PublicKey{privateKey.Public().(ed25519.PublicKey)},
		Now:              func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec, privateKey
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec, _ := testCodec(t, now)

	ch := challenge.New("challenge-1", now, time.Minute, []string{"cred-1"})
	token, expiresAt, err := codec.Issue(Claims{
		PendingUser: &PendingUser{ID: "user-1", UserName: "ada@example.com", DisplayName: "Ada"},
		Challenge:   &ch,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires at = %v, want %v", expiresAt, now.Add(time.Hour))
	}

	claims, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.PendingUser == nil || claims.PendingUser.ID != "user-1" {
		t.Fatalf("pending user = %+v, want user-1", claims.PendingUser)
	}
	if claims.PendingUser.UserName != "ada@example.com" || claims.PendingUser.DisplayName != "Ada" {
		t.Fatalf("pending user identity not carried: %+v", claims.PendingUser)
	}
	if claims.SignedIn {
		t.Fatal("expected not signed in")
	}
	if claims.Challenge == nil || claims.Challenge.Value != "challenge-1" {
		t.Fatalf("expected embedded challenge, got %+v", claims.Challenge)
	}
	if len(claims.Challenge.AllowedCredentialIDs) != 1 || claims.Challenge.AllowedCredentialIDs[0] != "cred-1" {
		t.Fatalf("expected credential binding, got %v", claims.Challenge.AllowedCredentialIDs)
	}
}

func TestIssueCoversChallengeExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	codec, err := NewCodec(Config{
		Issuer:           "passkeys",
		Audience:         "passkeys-api",
		TTL:              time.Minute,
		SigningKey:       privateKey,
		VerificationKeys: []ed25519.PublicKey{privateKey.Public().(ed25519.PublicKey)},
		Now:              func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	ch := challenge.New("challenge-1", now, 10*time.Minute, nil)
	_, expiresAt, err := codec.Issue(Claims{PendingUser: &PendingUser{ID: "user-1"}, Challenge: &ch})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.Equal(ch.ExpiresAt) {
		t.Fatalf("token expiry %v must cover challenge expiry %v", expiresAt, ch.ExpiresAt)
	}
}

func TestVerifyExpired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec, privateKey := testCodec(t, issued)

	token, _, err := codec.Issue(Claims{Subject: "user-1", SignedIn: true})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	late, err := NewCodec(Config{
		Issuer:           "passkeys",
		Audience:         "passkeys-api",
		TTL:              time.Hour,
		SigningKey:       privateKey,
		VerificationKeys: []ed25519.PublicKey{privateKey.Public().(ed25519.PublicKey)},
		Now:              func() time.Time { return issued.Add(2 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	_, err = late.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec, _ := testCodec(t, now)
	other, _ := testCodec(t, now)

	token, _, err := codec.Issue(Claims{Subject: "user-1", SignedIn: true})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = other.Verify(token)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyAcceptsRotatedKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	oldCodec, oldKey := testCodec(t, now)

	token, _, err := oldCodec.Issue(Claims{Subject: "user-1", SignedIn: true})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, newKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	rotated, err := NewCodec(Config{
		Issuer:     "passkeys",
		Audience:   "passkeys-api",
		TTL:        time.Hour,
		SigningKey: newKey,
		VerificationKeys: []ed25519.PublicKey{
			newKey.Public().(ed25519.PublicKey),
			oldKey.Public().(ed25519.PublicKey),
		},
		Now: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	claims, err := rotated.Verify(token)
	if err != nil {
		t.Fatalf("verify with rotated key set: %v", err)
	}
	if claims.Subject != "user-1" || !claims.SignedIn {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyIssuerAndAudienceMismatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	mint := func(issuer, audience string) string {
		codec, err := NewCodec(Config{
			Issuer:           issuer,
			Audience:         audience,
			TTL:              time.Hour,
			SigningKey:       privateKey,
			VerificationKeys: []ed25519.PublicKey{privateKey.Public().(ed25519.PublicKey)},
			Now:              func() time.Time { return now },
		})
		if err != nil {
			t.Fatalf("new codec: %v", err)
		}
		token, _, err := codec.Issue(Claims{Subject: "user-1", SignedIn: true})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		return token
	}

	verifier, err := NewCodec(Config{
		Issuer:           "passkeys",
		Audience:         "passkeys-api",
		TTL:              time.Hour,
		SigningKey:       privateKey,
		VerificationKeys: []ed25519.PublicKey{privateKey.Public().(ed25519.PublicKey)},
		Now:              func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	if _, err := verifier.Verify(mint("other-issuer", "passkeys-api")); !errors.Is(err, ErrIssuerMismatch) {
		t.Fatalf("expected ErrIssuerMismatch, got %v", err)
	}
	if _, err := verifier.Verify(mint("passkeys", "other-audience")); !errors.Is(err, ErrAudienceMismatch) {
		t.Fatalf("expected ErrAudienceMismatch, got %v", err)
	}
}

func TestVerifyTamperedToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec, _ := testCodec(t, now)

	token, _, err := codec.Issue(Claims{Subject: "user-1", SignedIn: true})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 token parts, got %d", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	forged := strings.Replace(string(payload), "user-1", "user-2", 1)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

	_, err = codec.Verify(strings.Join(parts, "."))
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for tampered token, got %v", err)
	}
}

func TestVerifyEmptyToken(t *testing.T) {
	codec, _ := testCodec(t, time.Now())
	if _, err := codec.Verify("  "); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestClaimsAnonymous(t *testing.T) {
	if !(Claims{}).Anonymous() {
		t.Fatal("expected zero claims to be anonymous")
	}
	if (Claims{Subject: "user-1", SignedIn: true}).Anonymous() {
		t.Fatal("expected signed-in claims to not be anonymous")
	}
	ch := challenge.Challenge{Value: "v"}
	if (Claims{Challenge: &ch}).Anonymous() {
		t.Fatal("expected claims with challenge to not be anonymous")
	}
	if (Claims{PendingUser: &PendingUser{ID: "user-1"}}).Anonymous() {
		t.Fatal("expected claims with pending user to not be anonymous")
	}
}

func TestGenerateKeyPair(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	privateBytes, err := base64.StdEncoding.DecodeString(pair.PrivateKey)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if len(privateBytes) != ed25519.PrivateKeySize {
		t.Fatalf("private key size = %d, want %d", len(privateBytes), ed25519.PrivateKeySize)
	}
	publicBytes, err := base64.StdEncoding.DecodeString(pair.PublicKey)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		t.Fatalf("public key size = %d, want %d", len(publicBytes), ed25519.PublicKeySize)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	extra, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	t.Setenv("PASSKEYS_SESSION_ISSUER", "issuer-x")
	t.Setenv("PASSKEYS_SESSION_AUDIENCE", "aud-x")
	t.Setenv("PASSKEYS_SESSION_TTL", "30m")
	t.Setenv("PASSKEYS_SESSION_SIGNING_KEY", pair.PrivateKey)
	t.Setenv("PASSKEYS_SESSION_VERIFICATION_KEYS", extra.PublicKey)

	cfg, err := LoadConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Issuer != "issuer-x" || cfg.Audience != "aud-x" {
		t.Fatalf("unexpected issuer/audience: %q %q", cfg.Issuer, cfg.Audience)
	}
	if cfg.TTL != 30*time.Minute {
		t.Fatalf("ttl = %v, want 30m", cfg.TTL)
	}
	// Signing key's own public half plus the rotated key.
	if len(cfg.VerificationKeys) != 2 {
		t.Fatalf("expected 2 verification keys, got %d", len(cfg.VerificationKeys))
	}
}

func TestLoadConfigFromEnvRequiresSigningKeyEnvUnset(t *testing.T) {
	t.Setenv("PASSKEYS_SESSION_SIGNING_KEY", "")
	if _, err := LoadConfigFromEnv(nil); err == nil {
		t.Fatal("expected error for missing signing key")
	}
}
