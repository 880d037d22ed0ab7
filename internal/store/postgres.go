package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/hubmirror/internal/store/migrations"
)

type PostgresManager struct {
	db          *sql.DB
	gateway     *PostgresGateway
	checkpoints *PostgresCheckpoints
	accounts    *PostgresAccounts
}

func (m *PostgresManager) Conn() *sql.DB {
	return m.db
}

func (m *PostgresManager) Gateway() Gateway {
	return m.gateway
}

func (m *PostgresManager) Checkpoints() Checkpoints {
	return m.checkpoints
}

func (m *PostgresManager) Accounts() Accounts {
	return m.accounts
}

func (m *PostgresManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return err
	}

	return nil
}

func (m *PostgresManager) Close() error {
	return m.db.Close()
}

func NewPostgresManager(ctx context.Context, dsn string) (*PostgresManager, error) {

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	m := &PostgresManager{
		db:          db,
		gateway:     NewPostgresGateway(db),
		checkpoints: NewPostgresCheckpoints(db),
		accounts:    NewPostgresAccounts(db),
	}

	if err := m.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return m, nil
}
