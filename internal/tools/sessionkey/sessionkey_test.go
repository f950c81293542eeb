package sessionkey

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("sessionkey", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.PublicOnly {
		t.Fatal("expected full key pair by default")
	}
}

func TestParseConfigPublicOnly(t *testing.T) {
	fs := flag.NewFlagSet("sessionkey", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-public-only"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if !cfg.PublicOnly {
		t.Fatal("expected public-only config")
	}
}

func TestRunWritesKeyPair(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Run(Config{}, buf); err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	signing := strings.TrimPrefix(lines[0], "PASSKEYS_SESSION_SIGNING_KEY=")
	if signing == lines[0] {
		t.Fatalf("missing signing key prefix: %q", lines[0])
	}
	decoded, err := base64.StdEncoding.DecodeString(signing)
	if err != nil {
		t.Fatalf("decode signing key: %v", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		t.Fatalf("signing key is %d bytes, want %d", len(decoded), ed25519.PrivateKeySize)
	}
	if !strings.HasPrefix(lines[1], "PASSKEYS_SESSION_VERIFICATION_KEYS=") {
		t.Fatalf("missing verification key prefix: %q", lines[1])
	}
}

func TestRunPublicOnly(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Run(Config{PublicOnly: true}, buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(got, "PASSKEYS_SESSION_VERIFICATION_KEYS=") {
		t.Fatalf("expected verification key output, got %q", got)
	}
	if strings.Contains(got, "\n") {
		t.Fatalf("expected a single line, got %q", got)
	}
}

func TestRunNilOutput(t *testing.T) {
	if err := Run(Config{}, nil); err == nil {
		t.Fatal("expected error for nil output")
	}
}

func TestParseConfigBadArgs(t *testing.T) {
	fs := flag.NewFlagSet("sessionkey", flag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	if _, err := ParseConfig(fs, []string{"-invalid"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}
