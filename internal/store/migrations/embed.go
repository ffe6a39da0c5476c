// Package migrations embeds the ledger schema migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
