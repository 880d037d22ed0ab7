package store

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/hubmirror/internal/dbx"
	"github.com/dmitrijs2005/hubmirror/internal/models"
)

// PostgresAccounts persists fid registry records.
type PostgresAccounts struct {
	db dbx.DBTX
}

func NewPostgresAccounts(db dbx.DBTX) *PostgresAccounts {
	return &PostgresAccounts{db: db}
}

func (r *PostgresAccounts) Upsert(ctx context.Context, acc *models.Account) error {
	query := `
		INSERT INTO accounts (fid, custody_address, recovery_address, registered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fid)
		DO UPDATE SET
			custody_address = excluded.custody_address,
			recovery_address = excluded.recovery_address,
			registered_at = excluded.registered_at,
			updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, acc.Fid, acc.CustodyAddress, acc.RecoveryAddress, acc.RegisteredAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresAccounts) TransferOwnership(ctx context.Context, fid uint64, custodyAddress string) error {
	// Transfer before register is possible out of order; keep a placeholder
	// that the registration later fills in.
	query := `
		INSERT INTO accounts (fid, custody_address) VALUES ($1, $2)
		ON CONFLICT (fid)
		DO UPDATE SET custody_address = excluded.custody_address, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, fid, custodyAddress); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
