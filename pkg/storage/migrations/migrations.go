// Package migrations embeds the numbered SQL schema migrations applied by
// pkg/storage via golang-migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
