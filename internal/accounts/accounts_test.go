package accounts

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
	"github.com/onlab/orderdesk/internal/ledger"
	"github.com/onlab/orderdesk/internal/logging"
)

func newTestService(t *testing.T) (*Service, *ledger.MemoryStore) {
	t.Helper()
	ledgers := ledger.NewMemoryStore()
	return NewService(NewMemoryStore(), ledgers, logging.NewDiscard()), ledgers
}

func TestEnsureAccount_OpensLedgerOnce(t *testing.T) {
	svc, ledgers := newTestService(t)
	ctx := context.Background()

	acct, err := svc.EnsureAccount(ctx, "acct-1", " Ada@Example.com ", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", acct.Email)

	balance, err := ledgers.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, balance)

	_, err = ledgers.Credit(ctx, "acct-1", 50, "topup:1")
	require.NoError(t, err)

	again, err := svc.EnsureAccount(ctx, "acct-1", "other@example.com", "Other")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", again.Email, "identity fields are immutable")

	balance, err = ledgers.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnsureAccount_KnownCacheIsBounded(t *testing.T) {
	ledgers := ledger.NewMemoryStore()
	svc := NewService(NewMemoryStore(), ledgers, logging.NewDiscard(), WithKnownCapacity(2))
	ctx := context.Background()

	for _, id := range []string{"acct-1", "acct-2", "acct-3"} {
		_, err := svc.EnsureAccount(ctx, id, id+"@example.com", "")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, svc.known.Len())
	assert.False(t, svc.known.Contains("acct-1"), "oldest id is evicted")

	// An evicted id provisions again without touching its ledger.
	_, err := ledgers.Credit(ctx, "acct-1", 40, "topup:1")
	require.NoError(t, err)
	acct, err := svc.EnsureAccount(ctx, "acct-1", "other@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "acct-1@example.com", acct.Email)

	balance, err := ledgers.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestEnsureAccount_RequiresID(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.EnsureAccount(context.Background(), "", "a@b.c", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdateDisplayName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "acct-1", "a@b.c", "")
	require.NoError(t, err)

	acct, err := svc.UpdateDisplayName(ctx, "acct-1", "  Grace  ")
	require.NoError(t, err)
	assert.Equal(t, "Grace", acct.DisplayName)

	_, err = svc.UpdateDisplayName(ctx, "acct-1", "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.UpdateDisplayName(ctx, "ghost", "Name")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresInsert_ExistingAccount(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	store := NewPostgresStore(sqlx.NewDb(raw, "postgres"))

	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1")).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "email", "created_at"}).
			AddRow("acct-1", "Ada", "ada@example.com", created))

	acct, inserted, err := store.Insert(context.Background(), domain.Account{ID: "acct-1", Email: "new@example.com"})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "ada@example.com", acct.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet_NotFound(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	store := NewPostgresStore(sqlx.NewDb(raw, "postgres"))

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "email", "created_at"}))

	_, err = store.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
