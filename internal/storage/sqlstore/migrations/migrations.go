// Package migrations embeds the schema shared by the postgres and sqlite drivers.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
