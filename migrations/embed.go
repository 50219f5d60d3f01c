// Package migrations embeds the SQL schema migrations for exphub.
//
// Migrations are embedded at build time with go:embed so the migrator and the
// integration test harness run the same schema with zero external file
// dependencies. Files follow the golang-migrate naming convention:
// 00N_name.up.sql / 00N_name.down.sql.
package migrations

import "embed"

// FS contains every SQL migration file.
//
//go:embed *.sql
var FS embed.FS
