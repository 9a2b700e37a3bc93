package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/contexter/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
// Arguments it does not know are filtered out first, so subcommand flags
// pass through untouched.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-s", "-d", "-e", "-l", "-chunk", "-chunk-bytes", "-batch"})

	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "s", cfg.ServerURL, "server base URL")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.ExportDir, "e", cfg.ExportDir, "export drop directory")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.IntVar(&cfg.ChunkSize, "chunk", cfg.ChunkSize, "upload chunk size")
	fs.IntVar(&cfg.ChunkBytes, "chunk-bytes", cfg.ChunkBytes, "upload chunk byte limit")
	fs.IntVar(&cfg.BackfillBatchSize, "batch", cfg.BackfillBatchSize, "backfill batch size")

	return fs.Parse(args)
}
