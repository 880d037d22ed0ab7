package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/hubmirror/internal/common"
	"github.com/dmitrijs2005/hubmirror/internal/dbx"
)

// PostgresCheckpoints stores the checkpoint in a single-row table. The
// monotonic guard lives in the SQL so an interrupted writer can never regress
// the stored value.
type PostgresCheckpoints struct {
	db dbx.DBTX
}

func NewPostgresCheckpoints(db dbx.DBTX) *PostgresCheckpoints {
	return &PostgresCheckpoints{db: db}
}

func (r *PostgresCheckpoints) Get(ctx context.Context) (uint64, error) {
	var id uint64
	err := r.db.QueryRowContext(ctx, "SELECT event_id FROM checkpoint WHERE id = 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresCheckpoints) Set(ctx context.Context, id uint64) error {
	query := `
		INSERT INTO checkpoint (id, event_id) VALUES (1, $1)
		ON CONFLICT (id)
		DO UPDATE SET event_id = excluded.event_id, updated_at = now()
		WHERE checkpoint.event_id < excluded.event_id
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresCheckpoints) Reset(ctx context.Context, id uint64) error {
	query := `
		INSERT INTO checkpoint (id, event_id) VALUES (1, $1)
		ON CONFLICT (id)
		DO UPDATE SET event_id = excluded.event_id, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
