package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migrator applies schema files from a directory in lexical order. File
// naming follows the {version}_{name}.up.sql / .down.sql convention, with
// applied versions tracked in public.schema_migrations.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// Up applies every up-migration that has not been recorded yet.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("load applied versions: %w", err)
	}

	files, err := m.migrationFiles(".up.sql")
	if err != nil {
		return fmt.Errorf("scan migrations dir: %w", err)
	}

	for _, name := range files {
		if applied[versionOf(name)] {
			continue
		}
		if err := m.applyFile(ctx, name); err != nil {
			return err
		}
	}

	return nil
}

// applyFile runs one up-migration and records its version, atomically.
func (m *Migrator) applyFile(ctx context.Context, name string) error {
	log.Printf("INFO: migration %s: applying", name)

	sqlText, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("migration %s: read: %w", name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, string(sqlText)); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %s: exec: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
		versionOf(name), name,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %s: record version: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: commit: %w", name, err)
	}

	log.Printf("INFO: migration %s: applied", name)
	return nil
}

// Down reverts the most recently applied migration using its .down.sql
// counterpart.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}

	var version, upName string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &upName)
	if err == sql.ErrNoRows {
		log.Println("INFO: schema is at base version, nothing to revert")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find latest version: %w", err)
	}

	downName := strings.Replace(upName, ".up.sql", ".down.sql", 1)
	sqlText, err := os.ReadFile(filepath.Join(m.dir, downName))
	if err != nil {
		return fmt.Errorf("migration %s: read: %w", downName, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, string(sqlText)); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %s: exec: %w", downName, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM public.schema_migrations WHERE version = $1`, version,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %s: delete version record: %w", downName, err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("INFO: migration %s: reverted", downName)
	return nil
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// migrationFiles lists directory entries with the given suffix, sorted so
// version prefixes apply in order.
func (m *Migrator) migrationFiles(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)
	return names, nil
}

// versionOf returns the numeric prefix of a migration filename, so
// "000001_event_log.up.sql" maps to "000001".
func versionOf(filename string) string {
	if i := strings.Index(filename, "_"); i > 0 {
		return filename[:i]
	}
	return filename
}
