package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"pmsim/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Game.Difficulty != "normal" || !cfg.Game.RandomizeStart || cfg.Server.BasePath != "/v0" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("game:\n  difficulty: hard\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Game.Difficulty != "hard" || cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("merge failed: %+v", cfg)
	}
	if _, err := config.FromYAML([]byte("game:\n  difficulty: brutal\n")); err == nil {
		t.Fatalf("expected difficulty error")
	}
	if _, err := config.FromYAML([]byte("webhooks:\n  - events: [game.created]\n")); err == nil {
		t.Fatalf("expected webhook url error")
	}
}

func TestLoadOptional(t *testing.T) {
	ws := t.TempDir()
	cfg, err := config.LoadOptional(ws)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if _, err := config.Load(ws); err == nil {
		t.Fatalf("Load should fail without a file")
	}
	data := "server:\n  jwt_secret: s3cret\n"
	if err := os.WriteFile(filepath.Join(ws, "pmsim.yml"), []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = config.Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.JWTSecret != "s3cret" {
		t.Fatalf("jwt secret = %q", cfg.Server.JWTSecret)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PMSIM_JWT_SECRET", "from-env")
	t.Setenv("PMSIM_DIFFICULTY", "easy")
	t.Setenv("PMSIM_TOKEN_TTL_HOURS", "2")
	cfg := config.Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Server.JWTSecret != "from-env" || cfg.Game.Difficulty != "easy" || cfg.Server.TokenTTLHours != 2 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	t.Setenv("PMSIM_DIFFICULTY", "nightmare")
	if err := config.Default().ApplyEnv(); err == nil {
		t.Fatalf("expected validation error from env difficulty")
	}
}
