package verifier

import (
	"github.com/jimmythecoder/passkeys/internal/platform/config"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string   `env:"PASSKEYS_RP_DISPLAY_NAME" envDefault:"Passkeys"`
	RPID          string   `env:"PASSKEYS_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string `env:"PASSKEYS_RP_ORIGINS"      envSeparator:","`
}

// LoadConfigFromEnv returns relying party configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			RPDisplayName: "Passkeys",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8080"},
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	return cfg
}
