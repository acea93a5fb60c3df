// Package migration はembedされたSQLファイルによるスキーマ管理を提供する。
// タスクサービスの起動時に未適用のマイグレーションだけをバージョン順に適用し、
// 適用済みバージョンをschema_migrationsテーブルで追跡する。
package migration

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"slices"
	"strconv"
	"strings"
)

// script は1つのマイグレーションファイル。
// ファイル名は 000001_create_tasks.up.sql のような「バージョン_名前.up.sql」形式。
type script struct {
	version int
	name    string
	path    string
}

// Run はdir以下の.up.sqlファイルのうち未適用のものをバージョン順に適用する。
// 各マイグレーションはトランザクション内で実行され、成功時にバージョンが記録される。
func Run(db *sql.DB, fsys fs.FS, dir string) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("schema_migrationsテーブルの作成に失敗: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}

	scripts, err := loadScripts(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションファイルの読み込みに失敗: %w", err)
	}

	for _, sc := range scripts {
		if applied[sc.version] {
			continue
		}
		if err := apply(db, fsys, sc); err != nil {
			return fmt.Errorf("マイグレーション%06d_%sの適用に失敗: %w", sc.version, sc.name, err)
		}
		log.Printf("マイグレーションを適用: %06d_%s", sc.version, sc.name)
	}

	return nil
}

// appliedVersions は適用済みのバージョン集合を返す。
func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// loadScripts はdir直下の.up.sqlファイルを収集してバージョンの昇順で返す。
// 形式に合わないファイル名は無視する。
func loadScripts(fsys fs.FS, dir string) ([]script, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var scripts []script
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}

		versionStr, rest, found := strings.Cut(entry.Name(), "_")
		if !found {
			continue
		}
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			continue
		}

		scripts = append(scripts, script{
			version: version,
			name:    strings.TrimSuffix(rest, ".up.sql"),
			path:    dir + "/" + entry.Name(),
		})
	}

	slices.SortFunc(scripts, func(a, b script) int { return a.version - b.version })
	return scripts, nil
}

// apply は1つのマイグレーションをトランザクション内で実行してバージョンを記録する。
// SQL実行またはバージョン記録に失敗した場合はロールバックされる。
func apply(db *sql.DB, fsys fs.FS, sc script) error {
	content, err := fs.ReadFile(fsys, sc.path)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("SQLの実行に失敗: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", sc.version); err != nil {
		return fmt.Errorf("バージョンの記録に失敗: %w", err)
	}

	return tx.Commit()
}
