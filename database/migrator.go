package database

import (
	"context"
	"embed"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
)

//go:embed migrations
var migrationsDir embed.FS

var migrationName = regexp.MustCompile(`^(\d+)[-_]`)

// migrate applies every embedded migration newer than PRAGMA user_version, each
// in its own transaction. An existing database is backed up first.
func (d *Database) migrate(ctx context.Context) error {
	var currVer int
	err := d.read.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currVer)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	files, err := migrationsDir.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, f := range files {
		if !f.IsDir() && filepath.Ext(f.Name()) == ".sql" {
			sqlFiles = append(sqlFiles, f.Name())
		}
	}

	slices.Sort(sqlFiles)

	backupBeforeMigration := currVer == 0

	for _, name := range sqlFiles {
		matches := migrationName.FindStringSubmatch(name)
		if len(matches) < 2 {
			return fmt.Errorf("parse version from migration file: %s", name)
		}
		nextVer, err := strconv.Atoi(matches[1])
		if err != nil {
			return fmt.Errorf("convert migration version from file %s: %w", name, err)
		}
		if nextVer <= currVer {
			continue // Skip migration if already applied
		}

		if !backupBeforeMigration {
			backupBeforeMigration = true
			if _, err := d.Backup(ctx, fmt.Sprintf("pre_migration_v%d", nextVer)); err != nil {
				return fmt.Errorf("backup database before migration: %w", err)
			}
		}

		d.logger.Debug(fmt.Sprintf("applying migration %d", nextVer))

		data, err := migrationsDir.ReadFile(path.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", name, err)
		}

		tx, err := d.write.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("start transaction for migration %d: %w", nextVer, err)
		}

		if _, err = tx.ExecContext(ctx, string(data)); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback migration %d: %w", nextVer, rbErr)
			}
			return fmt.Errorf("apply migration %d: %w", nextVer, err)
		}

		if _, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", nextVer)); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback migration %d: %w", nextVer, rbErr)
			}
			return fmt.Errorf("update database version for migration %d: %w", nextVer, err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", nextVer, err)
		}
		currVer = nextVer
	}

	return nil
}

// Version is the schema version recorded in the database file.
func (d *Database) Version(ctx context.Context) (int, error) {
	var v int
	if err := d.read.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return v, nil
}
