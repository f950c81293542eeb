// Package sessionkey generates Ed25519 session signing keys.
package sessionkey

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/jimmythecoder/passkeys/internal/auth/session"
)

// Config holds configuration for session key generation.
type Config struct {
	PublicOnly bool
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{}
	fs.BoolVar(&cfg.PublicOnly, "public-only", cfg.PublicOnly, "print only the public verification key")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates a key pair and writes it to out in env file form.
func Run(cfg Config, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}

	pair, err := session.GenerateKeyPair()
	if err != nil {
		return err
	}

	if cfg.PublicOnly {
		_, err = fmt.Fprintf(out, "PASSKEYS_SESSION_VERIFICATION_KEYS=%s\n", pair.PublicKey)
		return err
	}
	_, err = fmt.Fprintf(out,
		"PASSKEYS_SESSION_SIGNING_KEY=%s\nPASSKEYS_SESSION_VERIFICATION_KEYS=%s\n",
		pair.PrivateKey, pair.PublicKey,
	)
	return err
}
