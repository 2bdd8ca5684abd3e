package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type validatedConfig struct {
	Name string `yaml:"name"`
}

func (c *validatedConfig) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, "name: scriptdex\npath: /var/lib/scriptdex\n")

	var cfg testConfig
	if err := Load(p, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "scriptdex" || cfg.Path != "/var/lib/scriptdex" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("SCRIPTDEX_DATA", "/data/catalog")
	p := writeConfig(t, "name: scriptdex\npath: ${SCRIPTDEX_DATA}/db\n")

	var cfg testConfig
	if err := Load(p, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Path != "/data/catalog/db" {
		t.Errorf("path = %q, want env-expanded value", cfg.Path)
	}
}

func TestLoad_RunsValidator(t *testing.T) {
	p := writeConfig(t, "name: \"\"\n")

	var cfg validatedConfig
	if err := Load(p, &cfg); err == nil {
		t.Error("invalid config passed Load")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg testConfig
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml"), &cfg); err == nil {
		t.Error("missing file must be an error for Load")
	}
}

func TestLoadIfExists(t *testing.T) {
	cfg := testConfig{Name: "default", Path: "/default"}
	if err := LoadIfExists(filepath.Join(t.TempDir(), "absent.yaml"), &cfg); err != nil {
		t.Fatalf("missing file must be tolerated: %v", err)
	}
	if cfg.Name != "default" {
		t.Error("defaults clobbered by a missing file")
	}

	p := writeConfig(t, "name: fromfile\n")
	if err := LoadIfExists(p, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "fromfile" {
		t.Errorf("name = %q", cfg.Name)
	}
}
