package auth

import (
	"os"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config defines runtime configuration for sign-in and access tokens.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of PASETO access tokens.
	AccessTokenTTL time.Duration

	// ChallengeTTL is how long an OTP challenge can be verified.
	ChallengeTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string

	// EphemeralKey is set when no key was configured and one was generated.
	// Tokens then do not survive a restart.
	EphemeralKey bool
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:         "parley",
		AccessTokenTTL: 12 * time.Hour,
		ChallengeTTL:   5 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - PARLEY_PASETO_V4_SECRET_KEY_HEX (generated per process when empty)
//   - PARLEY_AUTH_ISSUER
//   - PARLEY_ACCESS_TTL
//   - PARLEY_OTP_TTL
//   - PARLEY_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PARLEY_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	for _, d := range []struct {
		env string
		dst *time.Duration
		min time.Duration
	}{
		{env: "PARLEY_ACCESS_TTL", dst: &cfg.AccessTokenTTL, min: time.Nanosecond},
		{env: "PARLEY_OTP_TTL", dst: &cfg.ChallengeTTL, min: time.Nanosecond},
		{env: "PARLEY_AUTH_CLOCK_SKEW", dst: &cfg.ClockSkew},
	} {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < d.min {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("PARLEY_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
		cfg.EphemeralKey = true
	}
	return cfg, nil
}
