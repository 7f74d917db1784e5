package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/tacradio/internal/config"
)

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, fullYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Radio.DefaultTarget != "gate" {
		t.Errorf("default_target = %q", cfg.Radio.DefaultTarget)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server: [unclosed\n")

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if len(cfg.Targets) != 3 || cfg.Radio.DefaultTarget != cfg.Targets[0].ID {
		t.Fatalf("targets = %+v, default = %q", cfg.Targets, cfg.Radio.DefaultTarget)
	}
	if !cfg.Targets[2].External {
		t.Error("drone feed should be external")
	}
}
