package auth

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_GeneratesEphemeralKey(t *testing.T) {
	t.Setenv("PARLEY_PASETO_V4_SECRET_KEY_HEX", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if !cfg.EphemeralKey || cfg.PasetoV4SecretKeyHex == "" {
		t.Fatalf("expected a generated key: %+v", cfg)
	}
	if _, err := NewPasetoV4PublicManager(cfg); err != nil {
		t.Fatalf("generated key unusable: %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	for _, env := range []string{"PARLEY_ACCESS_TTL", "PARLEY_OTP_TTL", "PARLEY_AUTH_CLOCK_SKEW"} {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, "-5m")
			if _, err := LoadConfigFromEnv(); err != ErrConfig {
				t.Fatalf("expected ErrConfig for %s, got %v", env, err)
			}
		})
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("PARLEY_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("PARLEY_AUTH_ISSUER", "parley-test")
	t.Setenv("PARLEY_ACCESS_TTL", "10m")
	t.Setenv("PARLEY_OTP_TTL", "2m")
	t.Setenv("PARLEY_AUTH_CLOCK_SKEW", "0s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Issuer != "parley-test" || cfg.AccessTokenTTL != 10*time.Minute || cfg.ChallengeTTL != 2*time.Minute || cfg.ClockSkew != 0 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.EphemeralKey || cfg.PasetoV4SecretKeyHex != secret.ExportHex() {
		t.Fatalf("configured key not used")
	}
}
