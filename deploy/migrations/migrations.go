// Package migrations ships the trade job schema as NNNN_name.sql files,
// applied in version order by storage/mysql.Migrate.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
