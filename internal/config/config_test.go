package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"AIBUM_STORE", "AIBUM_STORE_PATH", "AIBUM_THRESHOLD", "AIBUM_DIM", "AIBUM_WORKERS",
		"AIBUM_MATCH_POLICY", "DATABASE_URL", "POSTGRES_HOST", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Store.Backend != BackendFile {
		t.Errorf("expected file backend, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Path != "personGroups.json" {
		t.Errorf("unexpected store path %q", cfg.Store.Path)
	}
	if cfg.Cluster.Threshold != 0.6 {
		t.Errorf("expected threshold 0.6, got %v", cfg.Cluster.Threshold)
	}
	if cfg.Cluster.Dimension != 128 {
		t.Errorf("expected dimension 128, got %d", cfg.Cluster.Dimension)
	}
	if cfg.Worker.Engines != 1 {
		t.Errorf("expected 1 worker, got %d", cfg.Worker.Engines)
	}
	if cfg.Store.DatabaseURL != "postgres://localhost:5432/aibum" {
		t.Errorf("unexpected default database URL %q", cfg.Store.DatabaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("AIBUM_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "album")
	t.Setenv("POSTGRES_PORT", "")
	t.Setenv("AIBUM_THRESHOLD", "0.45")
	t.Setenv("AIBUM_WORKERS", "4")

	cfg := Load()

	if cfg.Store.DatabaseURL != "postgres://u:p@db:5432/album" {
		t.Errorf("unexpected database URL %q", cfg.Store.DatabaseURL)
	}
	if cfg.Cluster.Threshold != 0.45 {
		t.Errorf("expected threshold 0.45, got %v", cfg.Cluster.Threshold)
	}
	if cfg.Worker.Engines != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Worker.Engines)
	}
}

func TestEnvInt_InvalidFallsBack(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 7},
		{"abc", 7},
		{"-3", 7},
		{"0", 7},
		{"12", 12},
	}
	for _, tt := range tests {
		t.Setenv("AIBUM_TEST_INT", tt.value)
		if got := envInt("AIBUM_TEST_INT", 7); got != tt.want {
			t.Errorf("envInt(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Defaults", func(c *Config) {}, false},
		{"Unknown backend", func(c *Config) { c.Store.Backend = "redis" }, true},
		{"Empty path", func(c *Config) { c.Store.Path = "" }, true},
		{"Zero threshold", func(c *Config) { c.Cluster.Threshold = 0 }, true},
		{"Negative dimension", func(c *Config) { c.Cluster.Dimension = -1 }, true},
		{"Postgres without URL", func(c *Config) {
			c.Store.Backend = BackendPostgres
			c.Store.DatabaseURL = ""
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Store:   StoreConfig{Backend: BackendFile, Path: "groups.json", DatabaseURL: "postgres://x"},
				Cluster: ClusterConfig{Threshold: 0.6, Dimension: 128},
				Worker:  WorkerConfig{Engines: 1},
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
