package main

import (
	"os"
	"path/filepath"
	"testing"

	appconfig "github.com/saker-ai/denoise-bridge/internal/config"
)

func emptyConfig(t *testing.T) appconfig.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := appconfig.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	return cfg
}
