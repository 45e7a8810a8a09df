package accounts

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/onlab/orderdesk/internal/database"
	"github.com/onlab/orderdesk/internal/domain"
)

const accountColumns = `id, display_name, email, created_at`

// PostgresStore persists accounts in the accounts table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates an account store.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert implements Store. Identity fields of an existing account are left untouched.
func (s *PostgresStore) Insert(ctx context.Context, account domain.Account) (*domain.Account, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, account.ID, account.DisplayName, account.Email, account.CreatedAt)
	if err != nil {
		return nil, false, database.Classify(fmt.Errorf("insert account: %w", err))
	}
	rows, _ := res.RowsAffected()

	stored, err := s.Get(ctx, account.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, rows == 1, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	if err := s.db.GetContext(ctx, &account, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id); err != nil {
		if database.IsNoRows(err) {
			return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
		}
		return nil, database.Classify(fmt.Errorf("get account: %w", err))
	}
	return &account, nil
}

// UpdateDisplayName implements Store.
func (s *PostgresStore) UpdateDisplayName(ctx context.Context, id, name string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.GetContext(ctx, &account, `
		UPDATE accounts SET display_name = $2
		WHERE id = $1
		RETURNING `+accountColumns, id, name)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
		}
		return nil, database.Classify(fmt.Errorf("update display name: %w", err))
	}
	return &account, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM accounts`); err != nil {
		return 0, database.Classify(fmt.Errorf("count accounts: %w", err))
	}
	return n, nil
}

var _ Store = (*PostgresStore)(nil)
