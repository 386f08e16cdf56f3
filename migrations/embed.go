// Package migrations embeds the SQL migrations of both databases.
package migrations

import "embed"

// FS holds one directory per logical database: chat and catalog.
//
//go:embed chat/*.sql catalog/*.sql
var FS embed.FS

const (
	ChatDir    = "chat"
	CatalogDir = "catalog"
)
