package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Processing.Workers < 1 {
		t.Errorf("workers = %d, want at least 1", cfg.Processing.Workers)
	}
	d, err := cfg.Timeout()
	if err != nil || d != 10*time.Minute {
		t.Errorf("Timeout() = %v, %v; want 10m", d, err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Output.Dir != DefaultConfig().Output.Dir {
		t.Errorf("output dir = %q, want default", cfg.Output.Dir)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Processing.Workers = 3
	cfg.Stages["golgi"] = map[string]any{"dot_cut": 0.05, "min_object_size": 4}
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Processing.Workers != 3 {
		t.Errorf("workers = %d, want 3", loaded.Processing.Workers)
	}
	golgi := loaded.Stages["golgi"]
	if golgi["dot_cut"] != 0.05 {
		t.Errorf("golgi dot_cut = %v, want 0.05", golgi["dot_cut"])
	}
	if golgi["min_object_size"] != 4 {
		t.Errorf("golgi min_object_size = %v (%T), want 4", golgi["min_object_size"], golgi["min_object_size"])
	}
}

func TestTOMLByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[processing]
workers = 2
stage_timeout = "90s"

[input]
dir = "cells/c01"
channels = ["nuclei", "soma"]

[stages.soma]
threshold_method = "triangle"

[output]
dir = "out"
database = ""
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Processing.Workers)
	}
	if d, _ := cfg.Timeout(); d != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", d)
	}
	if got := strings.Join(cfg.Input.Channels, ","); got != "nuclei,soma" {
		t.Errorf("channels = %s", got)
	}
	if cfg.Stages["soma"]["threshold_method"] != "triangle" {
		t.Errorf("soma override lost: %v", cfg.Stages["soma"])
	}
	if cfg.DatabasePath() != "" {
		t.Errorf("database path = %q, want disabled", cfg.DatabasePath())
	}
	// unset keys keep their defaults
	if !cfg.Output.SaveMasks {
		t.Error("save_masks default lost")
	}

	out := filepath.Join(t.TempDir(), "again.toml")
	if err := SaveConfig(cfg, out); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "stage_timeout") {
		t.Errorf("saved TOML missing stage_timeout:\n%s", data)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.Workers = 0
	cfg.Processing.StageTimeout = "soon"
	cfg.Input.Channels = []string{"soma", "soma"}
	cfg.Output.Dir = ""
	cfg.Logging.Level = "chatty"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"workers", "stage timeout", "twice", "output.dir", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.Dir = "out"
	if got := cfg.DatabasePath(); got != filepath.Join("out", "runs.db") {
		t.Errorf("DatabasePath() = %q", got)
	}
	cfg.Output.Database = "/var/lib/infersubc/runs.db"
	if got := cfg.DatabasePath(); got != "/var/lib/infersubc/runs.db" {
		t.Errorf("DatabasePath() = %q", got)
	}
}
