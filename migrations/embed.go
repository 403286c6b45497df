// Package migrations embeds the journal's SQL migration files.
package migrations

import (
	"embed"

	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source returns the embedded migrations, files at the root.
func Source() database.Migrations {
	return database.Migrations{FS: files, Dir: "."}
}
