package internal

import (
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/jomardyan/scriptdex/internal/models"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Engine EngineConfig      `yaml:"engine"`
	Roots  []RootConfig      `yaml:"roots"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	for i := range c.Roots {
		if err := c.Roots[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// SQLiteConfig holds the inventory database location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// EngineConfig tunes the scan engine.
type EngineConfig struct {
	// ScanWorkers bounds the fingerprinting pool within one scan.
	ScanWorkers int `yaml:"scan_workers"`
	// WatchDebounce is the coalescing window for watch events.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
	// MissingScanRetention is how many consecutive full scans a record may
	// stay missing before hard deletion. Zero keeps missing records forever.
	MissingScanRetention int `yaml:"missing_scan_retention"`
	// SimilarityMaxCandidates caps the files read per similarity query.
	SimilarityMaxCandidates int `yaml:"similarity_max_candidates"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ScanWorkers, validation.Min(0)),
		validation.Field(&c.MissingScanRetention, validation.Min(0)),
		validation.Field(&c.SimilarityMaxCandidates, validation.Min(0)),
	)
}

// RootConfig declares a folder root to register at startup.
type RootConfig struct {
	Path            string   `yaml:"path"`
	Name            string   `yaml:"name"`
	Recursive       bool     `yaml:"recursive"`
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	FollowSymlinks  bool     `yaml:"follow_symlinks"`
	MaxFileSize     int64    `yaml:"max_file_size"`
	ContentHashCap  int64    `yaml:"content_hash_cap"`
	WatchEnabled    bool     `yaml:"watch_enabled"`
}

// Validate validates one root declaration.
func (c *RootConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.MaxFileSize, validation.Min(int64(0))),
		validation.Field(&c.ContentHashCap, validation.Min(int64(0))),
	)
}

// FolderRoot converts the declaration into the engine's model.
func (c *RootConfig) FolderRoot() models.FolderRoot {
	return models.FolderRoot{
		Path:            c.Path,
		Name:            c.Name,
		Recursive:       c.Recursive,
		IncludePatterns: c.IncludePatterns,
		ExcludePatterns: c.ExcludePatterns,
		FollowSymlinks:  c.FollowSymlinks,
		MaxFileSize:     c.MaxFileSize,
		ContentHashCap:  c.ContentHashCap,
		WatchEnabled:    c.WatchEnabled,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		SQLite: SQLiteConfig{
			Path: "./scriptdex.db",
		},
		Engine: EngineConfig{
			ScanWorkers:             8,
			WatchDebounce:           200 * time.Millisecond,
			MissingScanRetention:    3,
			SimilarityMaxCandidates: 50,
		},
	}
}
