package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/roadreport/internal/adapters/postgres"
	"github.com/samirrijal/roadreport/internal/pkg/config"
	"github.com/samirrijal/roadreport/internal/pkg/logging"
)

const migrationsDir = "migrations"

const createVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
	    name       TEXT PRIMARY KEY,
	    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|status>")
	}

	cfg, err := config.Load("roadreport-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, "text", "roadreport-migrate")

	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	files, err := migrationFiles(migrationsDir)
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}

	switch os.Args[1] {
	case "up":
		if err := up(ctx, db, files); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		slog.Info("all migrations applied")
	case "status":
		applied, err := appliedMigrations(ctx, db)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		for _, f := range files {
			state := "pending"
			if applied[filepath.Base(f)] {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, filepath.Base(f))
		}
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

// migrationFiles returns the .sql files in dir in lexical order.
func migrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func appliedMigrations(ctx context.Context, db *postgres.DB) (map[string]bool, error) {
	if _, err := db.Pool.Exec(ctx, createVersionTable); err != nil {
		return nil, err
	}
	rows, err := db.Pool.Query(ctx, "SELECT name FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(names))
	for _, n := range names {
		applied[n] = true
	}
	return applied, nil
}

// up applies each pending file in its own transaction.
func up(ctx context.Context, db *postgres.DB, files []string) error {
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	for _, f := range files {
		name := filepath.Base(f)
		if applied[name] {
			continue
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}

		err = pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (name) VALUES ($1)", name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		slog.Info("migration applied", "file", name)
	}
	return nil
}
