// Package migrations embeds the SQL schema applied at startup when
// DB_AUTO_MIGRATE is enabled.
package migrations

import "embed"

// FS holds the ordered *.sql migration files.
//
//go:embed *.sql
var FS embed.FS
