package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onlab/orderdesk/internal/domain"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	orders  map[string]*domain.Order
	keys    map[string]string
	results map[string]*domain.Result
	now     func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:  make(map[string]*domain.Order),
		keys:    make(map[string]string),
		results: make(map[string]*domain.Result),
		now:     time.Now,
	}
}

func submitKey(accountID, key string) string {
	return accountID + "\x00" + key
}

// Create implements Repository.
func (m *MemoryRepository) Create(_ context.Context, order *domain.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.SubmitKey != "" {
		if _, exists := m.keys[submitKey(order.AccountID, order.SubmitKey)]; exists {
			return "", domain.ErrDuplicateSubmitKey
		}
	}

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := m.now().UTC()
	order.State = domain.StateCreated
	order.CreatedAt = now
	order.UpdatedAt = now

	stored := *order
	m.orders[order.ID] = &stored
	if order.SubmitKey != "" {
		m.keys[submitKey(order.AccountID, order.SubmitKey)] = order.ID
	}
	return order.ID, nil
}

// Get implements Repository.
func (m *MemoryRepository) Get(_ context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	out := *order
	return &out, nil
}

// GetBySubmitKey implements Repository.
func (m *MemoryRepository) GetBySubmitKey(ctx context.Context, accountID, key string) (*domain.Order, error) {
	m.mu.RLock()
	id, ok := m.keys[submitKey(accountID, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("order with submit key: %w", domain.ErrNotFound)
	}
	return m.Get(ctx, id)
}

// ListByAccount implements Repository.
func (m *MemoryRepository) ListByAccount(ctx context.Context, accountID string, page domain.Page) ([]domain.Order, int, error) {
	return m.List(ctx, Filter{AccountID: accountID}, page)
}

// List implements Repository.
func (m *MemoryRepository) List(_ context.Context, filter Filter, page domain.Page) ([]domain.Order, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]domain.Order, 0)
	for _, o := range m.orders {
		if filter.AccountID != "" && o.AccountID != filter.AccountID {
			continue
		}
		if filter.State != "" && o.State != filter.State {
			continue
		}
		matched = append(matched, *o)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start, end := page.Slice(len(matched))
	return matched[start:end], len(matched), nil
}

// Transition implements Repository.
func (m *MemoryRepository) Transition(_ context.Context, id string, from, to domain.OrderState) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, from, to, "")
}

func (m *MemoryRepository) transitionLocked(id string, from, to domain.OrderState, reason string) error {
	order, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if order.State != from {
		return fmt.Errorf("%w: order %s is %s, expected %s", domain.ErrInvalidTransition, id, order.State, from)
	}
	order.State = to
	if reason != "" {
		order.FailureReason = reason
	}
	order.UpdatedAt = m.now().UTC()
	return nil
}

// MarkFailed implements Repository.
func (m *MemoryRepository) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, domain.StateCreated, domain.StateFailed, reason)
}

// SetInput implements Repository.
func (m *MemoryRepository) SetInput(_ context.Context, id, ref string, price int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if order.State != domain.StateCreated {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, id, order.State)
	}
	order.InputRef = ref
	order.Price = price
	order.UpdatedAt = m.now().UTC()
	return nil
}

// ListStale implements Repository.
func (m *MemoryRepository) ListStale(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stale := make([]domain.Order, 0)
	for _, o := range m.orders {
		if o.State == domain.StateCreated && o.CreatedAt.Before(before) {
			stale = append(stale, *o)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// Fulfill implements Repository.
func (m *MemoryRepository) Fulfill(_ context.Context, result *domain.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.results[result.OrderID]; exists {
		return fmt.Errorf("order %s: %w", result.OrderID, domain.ErrDuplicateResult)
	}
	if err := m.transitionLocked(result.OrderID, domain.StatePaid, domain.StateFulfilled, ""); err != nil {
		return err
	}

	stored := *result
	stored.ReportPaths = append([]string(nil), result.ReportPaths...)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now().UTC()
	}
	m.results[result.OrderID] = &stored
	return nil
}

// GetResult implements Repository.
func (m *MemoryRepository) GetResult(_ context.Context, orderID string) (*domain.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result, ok := m.results[orderID]
	if !ok {
		return nil, fmt.Errorf("result for order %s: %w", orderID, domain.ErrNotFound)
	}
	out := *result
	out.ReportPaths = append([]string(nil), result.ReportPaths...)
	return &out, nil
}

// Stats implements Repository.
func (m *MemoryRepository) Stats(_ context.Context) (domain.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := domain.Stats{ByState: make(map[domain.OrderState]int64)}
	for _, o := range m.orders {
		stats.ByState[o.State]++
		stats.Total++
		if countsAsRevenue(o.State) {
			stats.Revenue += o.Price
		}
	}
	return stats, nil
}

var _ Repository = (*MemoryRepository)(nil)
