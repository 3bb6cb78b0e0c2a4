// Package migrations embeds the quad store schema into the binary.
package migrations

import (
	"embed"

	"github.com/kos-kit/kos-server/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
