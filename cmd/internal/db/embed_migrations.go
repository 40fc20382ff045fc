package db

import "embed"

// migrationsFS embeds the SQL migration files shipped with the binary, so
// deployments never depend on a migrations directory on disk.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS
