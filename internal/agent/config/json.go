package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/contexter/internal/flagx"
	"github.com/dmitrijs2005/contexter/internal/timex"
)

// JsonSource is the JSON form of Source. Pointer fields distinguish an
// absent key from a false or zero value.
type JsonSource struct {
	Enabled            *bool           `json:"enabled"`
	Interval           *timex.Duration `json:"interval"`
	IncludeAttachments *bool           `json:"include_attachments"`
	Path               string          `json:"path"`
}

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
type JsonConfig struct {
	ServerURL         string                `json:"server_url"`
	DataDir           string                `json:"data_dir"`
	ExportDir         string                `json:"export_dir"`
	LogLevel          string                `json:"log_level"`
	LogFile           string                `json:"log_file"`
	ChunkSize         int                   `json:"chunk_size"`
	ChunkBytes        int                   `json:"chunk_bytes"`
	BackfillBatchSize int                   `json:"backfill_batch_size"`
	Sources           map[string]JsonSource `json:"sources"`
}

// parseJson overlays cfg with values from the file named by -c/-config.
// Keys missing from the file leave cfg unchanged.
func parseJson(cfg *Config, args []string) error {
	path := flagx.JsonConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.ExportDir, jc.ExportDir)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFile, jc.LogFile)
	if jc.ChunkSize != 0 {
		cfg.ChunkSize = jc.ChunkSize
	}
	if jc.ChunkBytes != 0 {
		cfg.ChunkBytes = jc.ChunkBytes
	}
	if jc.BackfillBatchSize != 0 {
		cfg.BackfillBatchSize = jc.BackfillBatchSize
	}

	for name, js := range jc.Sources {
		s := cfg.Sources[name]
		if js.Enabled != nil {
			s.Enabled = *js.Enabled
		}
		if js.Interval != nil {
			s.Interval = js.Interval.Duration
		}
		if js.IncludeAttachments != nil {
			s.IncludeAttachments = *js.IncludeAttachments
		}
		setString(&s.Path, js.Path)
		cfg.Sources[name] = s
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
