package internal

import (
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.SQLite.Path == "" {
		t.Error("no default database path")
	}
	if cfg.Engine.ScanWorkers != 8 {
		t.Errorf("scan workers = %d", cfg.Engine.ScanWorkers)
	}
	if cfg.Engine.WatchDebounce != 200*time.Millisecond {
		t.Errorf("debounce = %s", cfg.Engine.WatchDebounce)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty database path passed validation")
	}

	cfg = NewDefaultConfig()
	cfg.Engine.MissingScanRetention = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative retention passed validation")
	}

	cfg = NewDefaultConfig()
	cfg.Roots = []RootConfig{{Path: "/srv/scripts"}}
	if err := cfg.Validate(); err == nil {
		t.Error("root without a name passed validation")
	}

	cfg.Roots = []RootConfig{{Path: "/srv/scripts", Name: "scripts"}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid root rejected: %v", err)
	}
}

func TestRootConfig_FolderRoot(t *testing.T) {
	rc := RootConfig{
		Path:            "/srv/scripts",
		Name:            "scripts",
		Recursive:       true,
		IncludePatterns: []string{"**/*.sh"},
		MaxFileSize:     1 << 20,
		WatchEnabled:    true,
	}
	root := rc.FolderRoot()
	if root.Path != rc.Path || root.Name != rc.Name || !root.Recursive || !root.WatchEnabled {
		t.Errorf("conversion mismatch: %+v", root)
	}
	if len(root.IncludePatterns) != 1 || root.IncludePatterns[0] != "**/*.sh" {
		t.Errorf("patterns = %v", root.IncludePatterns)
	}
}
