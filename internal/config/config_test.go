package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ScanWorkers != Default().ScanWorkers {
		t.Errorf("ScanWorkers = %d, want default %d", cfg.ScanWorkers, Default().ScanWorkers)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.DatabasePath = "/custom/index.db"
	cfg.Roots = []string{"/home/data"}
	cfg.ScanWorkers = 8

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DatabasePath != cfg.DatabasePath {
		t.Errorf("DatabasePath = %q, want %q", loaded.DatabasePath, cfg.DatabasePath)
	}
	if loaded.ScanWorkers != 8 {
		t.Errorf("ScanWorkers = %d, want 8", loaded.ScanWorkers)
	}
	if len(loaded.Roots) != 1 || loaded.Roots[0] != "/home/data" {
		t.Errorf("Roots = %v, want [/home/data]", loaded.Roots)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, true},
		{"zero scan workers", func(c *Config) { c.ScanWorkers = 0 }, true},
		{"relative root", func(c *Config) { c.Roots = []string{"relative/path"} }, true},
		{"absolute root ok", func(c *Config) { c.Roots = []string{"/abs/path"} }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
