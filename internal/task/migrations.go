package task

import "embed"

// migrationsFS はタスクテーブルのマイグレーションSQLを保持する。
//
//go:embed migrations/*.up.sql
var migrationsFS embed.FS
