// Package migrate owns the governor schema. Migrations are embedded
// SQL files named NNNN_description.sql, applied in version order inside
// one transaction. An optional NNNN_description.down.sql sibling makes
// a migration reversible.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

func loadMigrations() ([]Migration, error) {
	files, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return nil, err
	}
	byVersion := map[int]*Migration{}
	for _, f := range files {
		if f.IsDir() || strings.HasSuffix(f.Name(), ".down.sql") {
			continue
		}
		data, err := migrationsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		if prev, ok := byVersion[v]; ok {
			return nil, fmt.Errorf("duplicate migration version %d (%s, %s)", v, prev.Name, f.Name())
		}
		m := &Migration{Version: v, Name: f.Name(), UpSQL: string(data)}
		downName := strings.TrimSuffix(f.Name(), ".sql") + ".down.sql"
		if down, err := migrationsFS.ReadFile("sql/" + downName); err == nil {
			m.DownSQL = string(down)
		}
		byVersion[v] = m
	}
	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Version reports the schema version currently applied to the
// database. A database that was never migrated reports 0.
func Version(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil && strings.Contains(err.Error(), "no such table") {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}

// Migrate applies every pending migration in version order. Already
// applied versions are skipped, so calling it on every open is cheap.
func Migrate(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var currentVersion int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&currentVersion)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
		currentVersion = 0
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if _, err := tx.Exec(m.UpSQL); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, m.Version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		currentVersion = m.Version
	}
	return tx.Commit()
}

// RollbackTo unapplies migrations above target, newest first. It fails
// before touching the database when a migration in the range has no
// down script.
func RollbackTo(db *sql.DB, target int) error {
	if target < 0 {
		return fmt.Errorf("rollback target must not be negative, got %d", target)
	}
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	current, err := Version(db)
	if err != nil {
		return err
	}
	if target > current {
		return fmt.Errorf("rollback target %d is ahead of schema version %d", target, current)
	}

	var pending []Migration
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version > current || m.Version <= target {
			continue
		}
		if m.DownSQL == "" {
			return fmt.Errorf("migration %s is not reversible", m.Name)
		}
		pending = append(pending, m)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, m := range pending {
		if _, err := tx.Exec(m.DownSQL); err != nil {
			return fmt.Errorf("rollback %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, m.Version-1); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}
	return tx.Commit()
}
