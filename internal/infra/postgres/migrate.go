package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/jinford/teardown/internal/platform/database"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate は未適用のマイグレーションを名前順に適用します。
// 複数プロセスから同時に呼ばれてもアドバイザリロックで直列化されます
func Migrate(ctx context.Context, tp *database.TransactionProvider, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	return database.Transact(ctx, tp, func(tx pgx.Tx) ([]string, error) {
		if err := database.AcquireXactLock(ctx, tx, database.LockID("teardown", "migrate")); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				name       TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`); err != nil {
			return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
		}

		var applied []string
		for _, name := range names {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&exists); err != nil {
				return nil, fmt.Errorf("failed to check migration %s: %w", name, err)
			}
			if exists {
				continue
			}

			sql, err := migrationFS.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return nil, fmt.Errorf("failed to apply migration %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
				return nil, fmt.Errorf("failed to record migration %s: %w", name, err)
			}
			logger.Info("マイグレーションを適用", "name", name)
			applied = append(applied, name)
		}
		return applied, nil
	})
}
