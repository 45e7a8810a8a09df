package ledger

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlab/orderdesk/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	store := NewPostgresStore(sqlx.NewDb(raw, "postgres"))
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock
}

var entryCols = []string{"id", "account_id", "entry_type", "amount", "balance_after", "reference", "created_at"}

func TestPostgresDebit_Commits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT balance FROM ledgers WHERE account_id = $1 FOR UPDATE")).
		WithArgs("acct").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(100))
	mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_entries WHERE account_id = $1 AND reference = $2")).
		WithArgs("acct", "order-1").
		WillReturnRows(sqlmock.NewRows(entryCols))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ledgers SET balance = $2")).
		WithArgs("acct", int64(30), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry, err := store.Debit(context.Background(), "acct", 70, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), entry.BalanceAfter)
	assert.Equal(t, domain.EntryTypeDebit, entry.EntryType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDebit_ReplayReturnsPriorEntry(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(30))
	mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_entries WHERE account_id = $1 AND reference = $2")).
		WillReturnRows(sqlmock.NewRows(entryCols).AddRow("e1", "acct", "debit", 70, 30, "order-1", created))
	mock.ExpectCommit()

	entry, err := store.Debit(context.Background(), "acct", 70, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "e1", entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDebit_InsufficientFundsRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(20))
	mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_entries")).
		WillReturnRows(sqlmock.NewRows(entryCols))
	mock.ExpectRollback()

	_, err := store.Debit(context.Background(), "acct", 300, "order-1")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDebit_UnknownLedger(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectRollback()

	_, err := store.Debit(context.Background(), "ghost", 10, "order-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetBalance(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT balance FROM ledgers WHERE account_id = $1")).
		WithArgs("acct").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(42))

	balance, err := store.GetBalance(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)
}

func TestPostgresOpen(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (account_id) DO NOTHING")).
		WithArgs("acct", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Open(context.Background(), "acct"))
	require.NoError(t, mock.ExpectationsWereMet())
}
