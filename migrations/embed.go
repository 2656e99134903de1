// Package migrations embeds the node's SQL schema into the binary so a
// fresh device can create its state database without files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/sensornode/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
