package orders

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlab/orderdesk/internal/domain"
)

func newOrder(accountID string, kind domain.ServiceKind, price int64) *domain.Order {
	return &domain.Order{AccountID: accountID, Kind: kind, Name: "essay.docx", Price: price}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	id, err := repo.Create(ctx, newOrder("acct", domain.PlagiarismCheck, 70))
	require.NoError(t, err)

	order, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCreated, order.State)
	assert.Equal(t, int64(70), order.Price)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreate_DuplicateSubmitKey(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	o := newOrder("acct", domain.PlagiarismCheck, 70)
	o.SubmitKey = "k1"
	id, err := repo.Create(ctx, o)
	require.NoError(t, err)

	dup := newOrder("acct", domain.PlagiarismCheck, 70)
	dup.SubmitKey = "k1"
	_, err = repo.Create(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmitKey)

	other := newOrder("other", domain.PlagiarismCheck, 70)
	other.SubmitKey = "k1"
	_, err = repo.Create(ctx, other)
	require.NoError(t, err, "submit keys are scoped per account")

	found, err := repo.GetBySubmitKey(ctx, "acct", "k1")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
}

func TestTransition_CompareAndSet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id, err := repo.Create(ctx, newOrder("acct", domain.CourseHeroUnlock, 30))
	require.NoError(t, err)

	require.NoError(t, repo.Transition(ctx, id, domain.StateCreated, domain.StatePaid))

	err = repo.Transition(ctx, id, domain.StateCreated, domain.StatePaid)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = repo.Transition(ctx, id, domain.StatePaid, domain.StateCreated)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "not an edge of the state machine")

	err = repo.Transition(ctx, "missing", domain.StatePaid, domain.StateFulfilled)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransition_ConcurrentExactlyOneWins(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id, err := repo.Create(ctx, newOrder("acct", domain.PlagiarismCheck, 70))
	require.NoError(t, err)
	require.NoError(t, repo.Transition(ctx, id, domain.StateCreated, domain.StatePaid))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.Transition(ctx, id, domain.StatePaid, domain.StateFulfilled) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMarkFailedAndSetInput(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id, err := repo.Create(ctx, newOrder("acct", domain.PlagiarismCheck, 70))
	require.NoError(t, err)

	require.NoError(t, repo.SetInput(ctx, id, "acct/file.docx", 300))
	require.NoError(t, repo.MarkFailed(ctx, id, "upload_failed"))

	order, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, order.State)
	assert.Equal(t, "upload_failed", order.FailureReason)
	assert.Equal(t, "acct/file.docx", order.InputRef)
	assert.Equal(t, int64(300), order.Price)

	assert.ErrorIs(t, repo.SetInput(ctx, id, "x", 70), domain.ErrInvalidState)
	assert.ErrorIs(t, repo.MarkFailed(ctx, id, "again"), domain.ErrInvalidTransition)
}

func TestListByAccount_NewestFirstWithTotal(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		repo.now = func() time.Time { return ts }
		o := newOrder("acct", domain.CourseHeroUnlock, 30)
		o.Name = fmt.Sprintf("order-%d", i)
		_, err := repo.Create(ctx, o)
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, newOrder("someone-else", domain.CourseHeroUnlock, 30))
	require.NoError(t, err)

	items, total, err := repo.ListByAccount(ctx, "acct", domain.NewPage(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)
	assert.Equal(t, "order-4", items[0].Name)
	assert.Equal(t, "order-3", items[1].Name)

	items, _, err = repo.ListByAccount(ctx, "acct", domain.NewPage(3, 2))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "order-0", items[0].Name)
}

func TestFulfill_AtomicWithTransition(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id, err := repo.Create(ctx, newOrder("acct", domain.PlagiarismCheck, 70))
	require.NoError(t, err)

	ai := decimal.NewFromInt(12)
	result := &domain.Result{OrderID: id, AIScore: &ai, ReportPaths: []string{"a", "b"}}

	err = repo.Fulfill(ctx, result)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "created orders cannot be fulfilled")
	_, err = repo.GetResult(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound, "no result stored when the transition fails")

	require.NoError(t, repo.Transition(ctx, id, domain.StateCreated, domain.StatePaid))
	require.NoError(t, repo.Fulfill(ctx, result))

	second := &domain.Result{OrderID: id, ReportPaths: []string{"c"}}
	assert.ErrorIs(t, repo.Fulfill(ctx, second), domain.ErrDuplicateResult)

	stored, err := repo.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stored.ReportPaths)
	assert.Equal(t, "12", stored.AIScore.String())

	order, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFulfilled, order.State)
}

func TestListStale(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	repo.now = func() time.Time { return old }
	staleID, err := repo.Create(ctx, newOrder("acct", domain.PlagiarismCheck, 70))
	require.NoError(t, err)
	paidID, err := repo.Create(ctx, newOrder("acct", domain.PlagiarismCheck, 70))
	require.NoError(t, err)
	require.NoError(t, repo.Transition(ctx, paidID, domain.StateCreated, domain.StatePaid))

	repo.now = time.Now
	_, err = repo.Create(ctx, newOrder("acct", domain.PlagiarismCheck, 70))
	require.NoError(t, err)

	stale, err := repo.ListStale(ctx, time.Now().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, staleID, stale[0].ID)
}

func TestStats_RevenueSumsActualPrices(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	paid := func(kind domain.ServiceKind, price int64) string {
		id, err := repo.Create(ctx, newOrder("acct", kind, price))
		require.NoError(t, err)
		require.NoError(t, repo.Transition(ctx, id, domain.StateCreated, domain.StatePaid))
		return id
	}
	paid(domain.PlagiarismCheck, 70)
	paid(domain.CourseHeroUnlock, 30)
	fulfilled := paid(domain.AiRemoval, 300)
	require.NoError(t, repo.Fulfill(ctx, &domain.Result{OrderID: fulfilled, ReportPaths: []string{"r"}}))

	failedID, err := repo.Create(ctx, newOrder("acct", domain.PlagiarismCheck, 70))
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, failedID, "insufficient_funds"))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(400), stats.Revenue)
	assert.Equal(t, int64(2), stats.ByState[domain.StatePaid])
	assert.Equal(t, int64(1), stats.ByState[domain.StateFulfilled])
	assert.Equal(t, int64(1), stats.ByState[domain.StateFailed])
}
