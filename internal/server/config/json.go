package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/contexter/internal/flagx"
	"github.com/dmitrijs2005/contexter/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// accept both "15m" strings and integer nanoseconds.
type JsonConfig struct {
	HTTPAddr                    string          `json:"http_addr"`
	DatabaseDSN                 string          `json:"database_dsn"`
	SecretKey                   string          `json:"secret_key"`
	AdminToken                  string          `json:"admin_token"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	LogLevel                    string          `json:"log_level"`
	RateLimitRPS                float64         `json:"rate_limit_rps"`
	RateLimitBurst              int             `json:"rate_limit_burst"`
	RetentionCron               string          `json:"retention_cron"`
	RetentionHours              map[string]int  `json:"retention_hours"`
	LogRetentionHours           *int            `json:"log_retention_hours"`
	S3RootUser                  string          `json:"s3_root_user"`
	S3RootPassword              string          `json:"s3_root_password"`
	S3Bucket                    string          `json:"s3_bucket"`
	S3Region                    string          `json:"s3_region"`
	S3BaseEndpoint              string          `json:"s3_base_endpoint"`
	AttachmentURLValidity       *timex.Duration `json:"attachment_url_validity"`
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

	setString(&cfg.HTTPAddr, jc.HTTPAddr)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.SecretKey, jc.SecretKey)
	setString(&cfg.AdminToken, jc.AdminToken)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.RetentionCron, jc.RetentionCron)
	setString(&cfg.S3RootUser, jc.S3RootUser)
	setString(&cfg.S3RootPassword, jc.S3RootPassword)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)

	if jc.AccessTokenValidityDuration != nil {
		cfg.AccessTokenValidityDuration = jc.AccessTokenValidityDuration.Duration
	}
	if jc.AttachmentURLValidity != nil {
		cfg.AttachmentURLValidity = jc.AttachmentURLValidity.Duration
	}
	if jc.RateLimitRPS != 0 {
		cfg.RateLimitRPS = jc.RateLimitRPS
	}
	if jc.RateLimitBurst != 0 {
		cfg.RateLimitBurst = jc.RateLimitBurst
	}
	if jc.LogRetentionHours != nil {
		cfg.LogRetentionHours = *jc.LogRetentionHours
	}
	for name, h := range jc.RetentionHours {
		cfg.RetentionHours[name] = h
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
