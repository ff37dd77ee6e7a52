// Package migrations embeds the SQL schema migrations so the server binary
// can apply them at startup without a migrations directory on disk.
package migrations

import "embed"

// Files holds the goose migration scripts in lexical order.
//
//go:embed *.sql
var Files embed.FS
