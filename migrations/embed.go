// Package migrations embeds the goose SQL migrations applied at startup
// (DB_AUTO_MIGRATE) and by the integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
