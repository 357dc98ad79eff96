package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresSlots stores slots in the storefront.slots table:
//
//	CREATE TABLE storefront.slots (
//		key        TEXT PRIMARY KEY,
//		value      TEXT NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
//	);
type PostgresSlots struct {
	db *sql.DB
}

// NewPostgresSlots wraps an open *sql.DB (driver "postgres", github.com/lib/pq).
func NewPostgresSlots(db *sql.DB) *PostgresSlots {
	return &PostgresSlots{db: db}
}

func (p *PostgresSlots) ReadSlot(ctx context.Context, key string) (string, bool, error) {
	query := `SELECT value FROM storefront.slots WHERE key = $1;`
	var value string
	err := p.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("persist: ReadSlot failed to scan row: %w", err)
	}
	return value, true, nil
}

func (p *PostgresSlots) WriteSlot(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO storefront.slots (key, value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP;
	`
	if _, err := p.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("persist: WriteSlot failed to execute upsert: %w", err)
	}
	return nil
}

func (p *PostgresSlots) DeleteSlot(ctx context.Context, key string) error {
	query := `DELETE FROM storefront.slots WHERE key = $1;`
	if _, err := p.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("persist: DeleteSlot failed to execute delete: %w", err)
	}
	return nil
}
