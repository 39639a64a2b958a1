package storage

import "embed"

// Migrations holds the SQL schema applied by `entitlement-service migrate`.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"
