package db

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var migrationsEmbedFS embed.FS

// getMigrationsFS returns the embedded migrations as a filesystem rooted
// at the migration files themselves.
func getMigrationsFS() (fs.FS, error) {
	return fs.Sub(migrationsEmbedFS, "migrations")
}
