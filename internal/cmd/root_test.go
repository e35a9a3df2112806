package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveTargetPositional(t *testing.T) {
	path := filepath.Join(t.TempDir(), "App.AppImage")
	if err := os.WriteFile(path, []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := resolveTarget([]string{path}, false)
	if err != nil {
		t.Fatalf("resolveTarget() error = %v", err)
	}
	if got != path {
		t.Errorf("resolveTarget() = %q, want %q", got, path)
	}
}

func TestResolveTargetMissingFile(t *testing.T) {
	if _, err := resolveTarget([]string{filepath.Join(t.TempDir(), "missing")}, false); err == nil {
		t.Fatal("resolveTarget() expected error for missing file")
	}
}

func TestResolveTargetNoArgs(t *testing.T) {
	if _, err := resolveTarget(nil, false); err == nil {
		t.Fatal("resolveTarget() expected error without a path")
	}
}

func TestResolveTargetSelfUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Tool.AppImage")
	if err := os.WriteFile(path, []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APPIMAGE", path)

	got, err := resolveTarget(nil, true)
	if err != nil {
		t.Fatalf("resolveTarget() error = %v", err)
	}
	if got != path {
		t.Errorf("resolveTarget() = %q, want %q", got, path)
	}
}

func TestResolveTargetSelfUpdateRejectsPath(t *testing.T) {
	t.Setenv("APPIMAGE", "/some/file")
	if _, err := resolveTarget([]string{"/other/file"}, true); err == nil {
		t.Fatal("resolveTarget() expected error when --self-update gets a path")
	}
}

func TestResolveTargetSelfUpdateWithoutEnv(t *testing.T) {
	t.Setenv("APPIMAGE", "")
	if _, err := resolveTarget(nil, true); err == nil {
		t.Fatal("resolveTarget() expected error without $APPIMAGE")
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configPath = ""

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.UpdateInformation != "" || cfg.RemoveOld || cfg.Overwrite {
		t.Errorf("expected empty defaults, got %+v", cfg)
	}
}
