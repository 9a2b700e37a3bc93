package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var lookupEnv = os.LookupEnv

// loadDotEnv reads .env from the working directory if present. Variables
// already set in the environment win.
func loadDotEnv() {
	_ = godotenv.Load()
}

// RetentionEnvKey is the variable holding the retention hours of kind,
// e.g. IMESSAGE_RETENTION_HOURS.
func RetentionEnvKey(kind string) string {
	return strings.ToUpper(kind) + "_RETENTION_HOURS"
}

// parseEnv overlays cfg with the variables lookup knows about.
func parseEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("DATABASE_URL", &cfg.DatabaseDSN)
	str("JWT_SECRET", &cfg.SecretKey)
	str("ADMIN_TOKEN", &cfg.AdminToken)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("RETENTION_CRON", &cfg.RetentionCron)
	str("S3_ROOT_USER", &cfg.S3RootUser)
	str("S3_ROOT_PASSWORD", &cfg.S3RootPassword)
	// an explicitly empty bucket disables attachment storage
	if v, ok := lookup("S3_BUCKET"); ok {
		cfg.S3Bucket = v
	}
	str("S3_REGION", &cfg.S3Region)
	str("S3_BASE_ENDPOINT", &cfg.S3BaseEndpoint)

	if v, ok := lookup("ACCESS_TOKEN_VALIDITY"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ACCESS_TOKEN_VALIDITY: %w", err)
		}
		cfg.AccessTokenValidityDuration = d
	}
	if v, ok := lookup("RATE_LIMIT_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = f
	}
	if err := num("RATE_LIMIT_BURST", &cfg.RateLimitBurst); err != nil {
		return err
	}
	if err := num("LOG_RETENTION_HOURS", &cfg.LogRetentionHours); err != nil {
		return err
	}
	for name := range cfg.RetentionHours {
		h := cfg.RetentionHours[name]
		if err := num(RetentionEnvKey(name), &h); err != nil {
			return err
		}
		cfg.RetentionHours[name] = h
	}
	return nil
}
