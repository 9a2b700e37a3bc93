// Package config loads runtime configuration for the contexter agent.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via flags: -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-s string   server base URL
//	-d string   data directory (store, logs)
//	-e string   export drop directory for JSON-lines sources
//	-l string   log level (debug, info, warn, error)
//	-chunk int  upload chunk size
//	-chunk-bytes int  upload chunk byte limit
//	-batch int  backfill batch size
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be strings like "5m" or
// integer nanoseconds. Sources are keyed by kind name:
//
//	{
//	  "server_url": "https://contexter.example.com",
//	  "data_dir": "~/.contexter",
//	  "sources": {
//	    "imessage": {"enabled": true, "interval": "5m", "include_attachments": true},
//	    "notes": {"enabled": false}
//	  }
//	}
package config
