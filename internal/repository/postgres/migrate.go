package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embedded embed.FS

type migration struct {
	version  string
	title    string
	upSQL    string
	checksum string
}

// Migrate applies pending *.up.sql files in version order. An empty dir uses
// the migrations compiled into the binary.
func Migrate(ctx context.Context, db *sql.DB, dir string, log *slog.Logger) error {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(embedded, "migrations")
		if err != nil {
			return fmt.Errorf("failed to open embedded migrations: %w", err)
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			title      TEXT,
			checksum   TEXT,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := readMigrations(fsys)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, m := range migrations {
		if sum, ok := applied[m.version]; ok {
			if sum != m.checksum {
				return fmt.Errorf("migration %s (%s) was modified after being applied", m.version, m.title)
			}
			continue
		}

		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.version, err)
		}
		log.Info("applied migration", slog.String("version", m.version), slog.String("title", m.title))
	}

	return nil
}

func readMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		version, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}

		hash := sha256.Sum256(content)
		out = append(out, migration{
			version:  version,
			title:    strings.ReplaceAll(strings.TrimSuffix(rest, ".up.sql"), "_", " "),
			upSQL:    string(content),
			checksum: hex.EncodeToString(hash[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func appliedChecksums(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, COALESCE(checksum, '') FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.upSQL); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, title, checksum) VALUES ($1, $2, $3)",
		m.version, m.title, m.checksum,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
