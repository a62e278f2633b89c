package app

import (
	"testing"
	"time"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/persist"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"PARLEY_HTTP_ADDR", "PARLEY_PAGE_SIZE", "PARLEY_MAX_PAGES", "PARLEY_SNAPSHOT_BACKEND",
		"PARLEY_SNAPSHOT_KEY", "PARLEY_REQUIRE_AUTH", "PARLEY_WS_ALLOWED_ORIGINS",
	} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.Chat != chat.DefaultConfig() {
		t.Fatalf("Chat=%+v want=%+v", cfg.Chat, chat.DefaultConfig())
	}
	if cfg.SnapshotBackend != BackendNone || cfg.SnapshotKey != persist.DefaultKey {
		t.Fatalf("snapshot backend=%q key=%q", cfg.SnapshotBackend, cfg.SnapshotKey)
	}
	if !cfg.RequireAuth || !cfg.WS.OriginRequired {
		t.Fatalf("RequireAuth=%v OriginRequired=%v want=true true", cfg.RequireAuth, cfg.WS.OriginRequired)
	}
	if len(cfg.WS.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins=%v", cfg.WS.AllowedOrigins)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PARLEY_PAGE_SIZE", "10")
	t.Setenv("PARLEY_MAX_PAGES", "3")
	t.Setenv("PARLEY_REPLY_DELAY_MAX", "5s")
	t.Setenv("PARLEY_PAGE_LATENCY", "not-a-duration")
	t.Setenv("PARLEY_SNAPSHOT_BACKEND", "sqlite")
	t.Setenv("PARLEY_REQUIRE_AUTH", "false")
	t.Setenv("PARLEY_WS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("PARLEY_DB_MAX_CONNS", "-4")

	cfg := LoadConfig()
	if cfg.Chat.PageSize != 10 || cfg.Chat.MaxPages != 3 || cfg.Chat.ReplyDelayMax != 5*time.Second {
		t.Fatalf("Chat=%+v", cfg.Chat)
	}
	if cfg.Chat.PageLatency != chat.DefaultConfig().PageLatency {
		t.Fatalf("invalid duration must fall back, got %v", cfg.Chat.PageLatency)
	}
	if cfg.SnapshotBackend != BackendSQLite || cfg.RequireAuth {
		t.Fatalf("backend=%q require_auth=%v", cfg.SnapshotBackend, cfg.RequireAuth)
	}
	if got := cfg.WS.AllowedOrigins; len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("AllowedOrigins=%q", got)
	}
	if cfg.DBMaxConns != persist.DefaultPoolMaxConns {
		t.Fatalf("DBMaxConns=%d want=%d", cfg.DBMaxConns, persist.DefaultPoolMaxConns)
	}
}

func TestEnvCSV_AllBlankFallsBack(t *testing.T) {
	t.Setenv("PARLEY_TEST_CSV", " , ,")
	got := EnvCSV("PARLEY_TEST_CSV", []string{"x"})
	if len(got) != 1 || got[0] != "x" {
		t.Fatalf("EnvCSV=%v want=[x]", got)
	}
}
