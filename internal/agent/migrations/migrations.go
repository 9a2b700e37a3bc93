// Package migrations embeds the agent's SQLite schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
