package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/kinds"
)

const minChunkBytes = 64 << 10

// Source configures one collector.
type Source struct {
	Enabled            bool
	Interval           time.Duration
	IncludeAttachments bool
	// Path is the database file of SQLite-backed sources, or the image
	// directory of the screenshot source.
	Path string
}

// Config holds runtime settings for the agent.
type Config struct {
	ServerURL         string
	DataDir           string
	ExportDir         string
	LogLevel          string
	LogFile           string
	ChunkSize         int
	ChunkBytes        int
	BackfillBatchSize int
	Sources           map[string]Source
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DataDir = "~/.contexter"
	c.ExportDir = "~/.contexter/exports"
	c.LogLevel = "info"
	c.ChunkSize = common.UploadChunkSize
	c.ChunkBytes = common.UploadChunkBytes
	c.BackfillBatchSize = common.BackfillBatchSize
	c.Sources = map[string]Source{
		kinds.Message: {
			Enabled:  true,
			Interval: 5 * time.Minute,
			Path:     "~/Library/Messages/chat.db",
		},
		kinds.WhatsAppMessage: {
			Interval: 5 * time.Minute,
			Path:     "~/Library/Group Containers/group.net.whatsapp.WhatsApp.shared/ChatStorage.sqlite",
		},
		kinds.Contact:  {Enabled: true, Interval: time.Hour},
		kinds.Reminder: {Enabled: true, Interval: 15 * time.Minute},
		kinds.Note:     {Enabled: true, Interval: 15 * time.Minute},
		kinds.Sticky:   {Enabled: true, Interval: 15 * time.Minute},
		kinds.Screenshot: {
			Interval: time.Minute,
			Path:     "~/.contexter/screenshots",
		},
	}
}

// StorePath is the agent database inside DataDir.
func (c *Config) StorePath() string { return filepath.Join(c.DataDir, "agent.db") }

// LogPath is LogFile, or agent.log inside DataDir when unset.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "agent.log")
}

// Validate rejects settings the agent cannot run with.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server url is empty", common.ErrorValidation)
	}
	if c.ChunkSize <= 0 || c.BackfillBatchSize <= 0 {
		return fmt.Errorf("%w: chunk and batch sizes must be positive", common.ErrorValidation)
	}
	if c.ChunkBytes < minChunkBytes {
		return fmt.Errorf("%w: chunk byte limit must be at least %d", common.ErrorValidation, minChunkBytes)
	}
	for name, s := range c.Sources {
		if _, err := kinds.Get(name); err != nil {
			return fmt.Errorf("source %q: %w", name, err)
		}
		if s.Enabled && s.Interval <= 0 {
			return fmt.Errorf("%w: source %q interval must be positive", common.ErrorValidation, name)
		}
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags from args. Later sources take
// precedence over earlier ones.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
