package directory

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BOTDIR_ADMIN_SECRET", "")
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":8000" || cfg.TTL != 300*time.Second || cfg.Capacity != 10000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SweepInterval != 0 || cfg.DatabaseURL != "" || cfg.AdminSecret != "" {
		t.Fatalf("optional features should default off: %+v", cfg)
	}
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/botdir")
	t.Setenv("BOTDIR_ADMIN_SECRET", "s3cret")
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/botdir" || cfg.AdminSecret != "s3cret" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoadConfigFileUnderFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.toml")
	data := []byte(`
addr = ":9100"
ttl = "90s"
capacity = 42
sweep_interval = "1m"
announce_rate = 0.0
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig([]string{"-config", path, "-capacity", "7"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":9100" || cfg.TTL != 90*time.Second || cfg.SweepInterval != time.Minute {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Capacity != 7 {
		t.Fatalf("flag should win over file, got capacity %d", cfg.Capacity)
	}
	if cfg.AnnounceRate != 0 {
		t.Fatalf("expected rate limiting disabled by file, got %v", cfg.AnnounceRate)
	}
}

func TestLoadConfigRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte(`ttl = "soon"`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig([]string{"-config", path}); err == nil {
		t.Fatalf("expected error for unparsable duration")
	}
}

func TestLoadConfigValidates(t *testing.T) {
	cases := [][]string{
		{"-ttl", "0s"},
		{"-capacity", "0"},
		{"-sweep-interval", "-1s"},
		{"-announce-rate", "2", "-announce-burst", "0"},
	}
	for _, args := range cases {
		if _, err := LoadConfig(args); err == nil {
			t.Fatalf("expected validation error for %v", args)
		}
	}
}
