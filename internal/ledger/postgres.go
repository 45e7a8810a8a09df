package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/onlab/orderdesk/internal/database"
	"github.com/onlab/orderdesk/internal/domain"
)

const entryColumns = `id, account_id, entry_type, amount, balance_after, reference, created_at`

// PostgresStore is a Store backed by the ledgers and ledger_entries tables.
//
// Each mutation locks the account's ledgers row, so the reference check and the
// balance update are serialized per account. The (account_id, reference) unique
// constraint backs the idempotency guarantee.
type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStore creates a ledger store.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Open implements Store.
func (s *PostgresStore) Open(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledgers (account_id, balance, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, s.now().UTC())
	if err != nil {
		return database.Classify(fmt.Errorf("open ledger %s: %w", accountID, err))
	}
	return nil
}

// GetBalance implements Store.
func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, `SELECT balance FROM ledgers WHERE account_id = $1`, accountID)
	if err != nil {
		if database.IsNoRows(err) {
			return 0, fmt.Errorf("ledger %s: %w", accountID, domain.ErrNotFound)
		}
		return 0, database.Classify(fmt.Errorf("get balance: %w", err))
	}
	return balance, nil
}

// Debit implements Store.
func (s *PostgresStore) Debit(ctx context.Context, accountID string, amount int64, reference string) (*domain.LedgerEntry, error) {
	return s.apply(ctx, accountID, domain.EntryTypeDebit, amount, reference)
}

// Credit implements Store.
func (s *PostgresStore) Credit(ctx context.Context, accountID string, amount int64, reference string) (*domain.LedgerEntry, error) {
	return s.apply(ctx, accountID, domain.EntryTypeCredit, amount, reference)
}

func (s *PostgresStore) apply(ctx context.Context, accountID string, entryType domain.EntryType, amount int64, reference string) (*domain.LedgerEntry, error) {
	if err := validate(accountID, amount, reference); err != nil {
		return nil, err
	}

	var out *domain.LedgerEntry
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var balance int64
		if err := tx.GetContext(ctx, &balance, `SELECT balance FROM ledgers WHERE account_id = $1 FOR UPDATE`, accountID); err != nil {
			if database.IsNoRows(err) {
				return fmt.Errorf("ledger %s: %w", accountID, domain.ErrNotFound)
			}
			return database.Classify(fmt.Errorf("lock ledger: %w", err))
		}

		var existing domain.LedgerEntry
		err := tx.GetContext(ctx, &existing, `SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 AND reference = $2`, accountID, reference)
		switch {
		case err == nil:
			if err := checkReplay(&existing, entryType, amount); err != nil {
				return err
			}
			out = &existing
			return nil
		case !database.IsNoRows(err):
			return database.Classify(fmt.Errorf("lookup reference: %w", err))
		}

		delta := amount
		if entryType == domain.EntryTypeDebit {
			delta = -amount
		}
		if balance+delta < 0 {
			return fmt.Errorf("debit %d from balance %d: %w", amount, balance, domain.ErrInsufficientFunds)
		}

		entry := &domain.LedgerEntry{
			ID:           uuid.NewString(),
			AccountID:    accountID,
			EntryType:    entryType,
			Amount:       amount,
			BalanceAfter: balance + delta,
			Reference:    reference,
			CreatedAt:    s.now().UTC(),
		}

		if _, err := tx.ExecContext(ctx, `UPDATE ledgers SET balance = $2, updated_at = $3 WHERE account_id = $1`,
			accountID, entry.BalanceAfter, entry.CreatedAt); err != nil {
			return database.Classify(fmt.Errorf("update balance: %w", err))
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, entry.ID, entry.AccountID, entry.EntryType, entry.Amount, entry.BalanceAfter, entry.Reference, entry.CreatedAt); err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("%w: reference %q already recorded", domain.ErrConflict, reference)
			}
			return database.Classify(fmt.Errorf("insert entry: %w", err))
		}

		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup implements Store.
func (s *PostgresStore) Lookup(ctx context.Context, accountID, reference string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := s.db.GetContext(ctx, &entry, `SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 AND reference = $2`, accountID, reference)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, fmt.Errorf("ledger entry %s/%s: %w", accountID, reference, domain.ErrNotFound)
		}
		return nil, database.Classify(fmt.Errorf("lookup reference: %w", err))
	}
	return &entry, nil
}

// Reverse implements Store.
func (s *PostgresStore) Reverse(ctx context.Context, accountID, reference string) (*domain.LedgerEntry, bool, error) {
	return reverse(ctx, s, accountID, reference)
}

// Entries implements Store. Newest entries come first.
func (s *PostgresStore) Entries(ctx context.Context, accountID string, page domain.Page) ([]domain.LedgerEntry, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`, accountID); err != nil {
		return nil, 0, database.Classify(fmt.Errorf("count entries: %w", err))
	}

	entries := []domain.LedgerEntry{}
	err := s.db.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, accountID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, database.Classify(fmt.Errorf("list entries: %w", err))
	}
	return entries, total, nil
}

var _ Store = (*PostgresStore)(nil)
