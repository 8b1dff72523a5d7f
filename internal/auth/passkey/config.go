package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-webauthn/webauthn/webauthn"
)

// DefaultRPDisplayName labels credential prompts when no override is set.
const DefaultRPDisplayName = "VaultGate"

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"VAULTGATE_WEBAUTHN_RP_DISPLAY_NAME"`
	RPID          string        `env:"VAULTGATE_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"VAULTGATE_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"VAULTGATE_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName: DefaultRPDisplayName,
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8094"},
			ChallengeTTL:  5 * time.Minute,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = DefaultRPDisplayName
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8094"}
	}
	return cfg
}

// NewWebAuthn builds the relying party handle used by every ceremony.
func NewWebAuthn(cfg Config) (*webauthn.WebAuthn, error) {
	return webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: cfg.ChallengeTTL,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: cfg.ChallengeTTL,
			},
		},
	})
}
