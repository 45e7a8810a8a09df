package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlab/orderdesk/internal/domain"
)

func newFunded(t *testing.T, accountID string, amount int64) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Open(ctx, accountID))
	if amount > 0 {
		_, err := store.Credit(ctx, accountID, amount, "topup:seed")
		require.NoError(t, err)
	}
	return store
}

func TestDebit_IsIdempotentPerReference(t *testing.T) {
	ctx := context.Background()
	store := newFunded(t, "acct", 100)

	first, err := store.Debit(ctx, "acct", 70, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), first.BalanceAfter)

	second, err := store.Debit(ctx, "acct", 70, "order-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, err := store.GetBalance(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestDebit_InsufficientFundsAppliesNothing(t *testing.T) {
	ctx := context.Background()
	store := newFunded(t, "acct", 20)

	_, err := store.Debit(ctx, "acct", 300, "order-1")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	balance, err := store.GetBalance(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	_, err = store.Lookup(ctx, "acct", "order-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApply_Validation(t *testing.T) {
	ctx := context.Background()
	store := newFunded(t, "acct", 10)

	tests := []struct {
		name      string
		accountID string
		amount    int64
		reference string
		wantErr   error
	}{
		{"zero amount", "acct", 0, "r", domain.ErrInvalidInput},
		{"negative amount", "acct", -5, "r", domain.ErrInvalidInput},
		{"empty reference", "acct", 5, "", domain.ErrInvalidInput},
		{"unknown account", "ghost", 5, "r", domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Debit(ctx, tt.accountID, tt.amount, tt.reference)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReferenceMismatch(t *testing.T) {
	ctx := context.Background()
	store := newFunded(t, "acct", 100)

	_, err := store.Debit(ctx, "acct", 30, "order-1")
	require.NoError(t, err)

	_, err = store.Debit(ctx, "acct", 40, "order-1")
	assert.ErrorIs(t, err, domain.ErrReferenceMismatch)

	_, err = store.Credit(ctx, "acct", 30, "order-1")
	assert.ErrorIs(t, err, domain.ErrReferenceMismatch)
}

func TestReverse_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	store := newFunded(t, "acct", 100)

	_, err := store.Debit(ctx, "acct", 70, "order-1")
	require.NoError(t, err)

	entry, applied, err := store.Reverse(ctx, "acct", "order-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "reversal:order-1", entry.Reference)

	replayed, applied, err := store.Reverse(ctx, "acct", "order-1")
	require.NoError(t, err)
	assert.False(t, applied, "a second reversal is a replay")
	assert.Equal(t, entry.ID, replayed.ID)

	balance, err := store.GetBalance(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestReverse_NoDebitIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newFunded(t, "acct", 100)

	entry, applied, err := store.Reverse(ctx, "acct", "order-never-charged")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Nil(t, entry)

	_, _, err = store.Reverse(ctx, "acct", "topup:seed")
	assert.ErrorIs(t, err, domain.ErrReferenceMismatch)

	_, _, err = store.Reverse(ctx, "acct", "reversal:x")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConcurrentDebits_NeverNegative(t *testing.T) {
	ctx := context.Background()
	store := newFunded(t, "acct", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every reference is submitted twice to exercise replay under contention.
			ref := fmt.Sprintf("order-%d", i%25)
			_, _ = store.Debit(ctx, "acct", 70, ref)
		}(i)
	}
	wg.Wait()

	balance, err := store.GetBalance(ctx, "acct")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, balance, int64(0))

	entries, total, err := store.Entries(ctx, "acct", domain.NewPage(1, 100))
	require.NoError(t, err)
	assert.Equal(t, len(entries), total)

	var sum int64
	for _, e := range entries {
		if e.EntryType == domain.EntryTypeCredit {
			sum += e.Amount
		} else {
			sum -= e.Amount
		}
	}
	assert.Equal(t, balance, sum, "balance must equal the sum of committed entries")
	// 1000 / 70 allows 14 distinct debits.
	assert.Equal(t, int64(1000-14*70), balance)
}

func TestEntries_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newFunded(t, "acct", 100)
	_, err := store.Debit(ctx, "acct", 10, "a")
	require.NoError(t, err)
	_, err = store.Debit(ctx, "acct", 10, "b")
	require.NoError(t, err)

	entries, total, err := store.Entries(ctx, "acct", domain.NewPage(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Reference)
	assert.Equal(t, "a", entries[1].Reference)

	entries, _, err = store.Entries(ctx, "acct", domain.NewPage(2, 2))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "topup:seed", entries[0].Reference)
}
