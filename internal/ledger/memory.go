package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onlab/orderdesk/internal/domain"
)

// MemoryStore is an in-process Store. All mutations for all accounts are serialized.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]int64
	entries  map[string][]domain.LedgerEntry
	byRef    map[string]map[string]int
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		entries:  make(map[string][]domain.LedgerEntry),
		byRef:    make(map[string]map[string]int),
		now:      time.Now,
	}
}

// Open implements Store.
func (m *MemoryStore) Open(_ context.Context, accountID string) error {
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.balances[accountID]; !ok {
		m.balances[accountID] = 0
		m.byRef[accountID] = make(map[string]int)
	}
	return nil
}

// GetBalance implements Store.
func (m *MemoryStore) GetBalance(_ context.Context, accountID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, ok := m.balances[accountID]
	if !ok {
		return 0, fmt.Errorf("ledger %s: %w", accountID, domain.ErrNotFound)
	}
	return balance, nil
}

// Debit implements Store.
func (m *MemoryStore) Debit(_ context.Context, accountID string, amount int64, reference string) (*domain.LedgerEntry, error) {
	return m.apply(accountID, domain.EntryTypeDebit, amount, reference)
}

// Credit implements Store.
func (m *MemoryStore) Credit(_ context.Context, accountID string, amount int64, reference string) (*domain.LedgerEntry, error) {
	return m.apply(accountID, domain.EntryTypeCredit, amount, reference)
}

func (m *MemoryStore) apply(accountID string, entryType domain.EntryType, amount int64, reference string) (*domain.LedgerEntry, error) {
	if err := validate(accountID, amount, reference); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[accountID]
	if !ok {
		return nil, fmt.Errorf("ledger %s: %w", accountID, domain.ErrNotFound)
	}

	if idx, seen := m.byRef[accountID][reference]; seen {
		existing := m.entries[accountID][idx]
		if err := checkReplay(&existing, entryType, amount); err != nil {
			return nil, err
		}
		return &existing, nil
	}

	delta := amount
	if entryType == domain.EntryTypeDebit {
		delta = -amount
	}
	if balance+delta < 0 {
		return nil, fmt.Errorf("debit %d from balance %d: %w", amount, balance, domain.ErrInsufficientFunds)
	}

	entry := domain.LedgerEntry{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		EntryType:    entryType,
		Amount:       amount,
		BalanceAfter: balance + delta,
		Reference:    reference,
		CreatedAt:    m.now().UTC(),
	}
	m.balances[accountID] = entry.BalanceAfter
	m.entries[accountID] = append(m.entries[accountID], entry)
	m.byRef[accountID][reference] = len(m.entries[accountID]) - 1

	return &entry, nil
}

// Lookup implements Store.
func (m *MemoryStore) Lookup(_ context.Context, accountID, reference string) (*domain.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byRef[accountID][reference]
	if !ok {
		return nil, fmt.Errorf("ledger entry %s/%s: %w", accountID, reference, domain.ErrNotFound)
	}
	entry := m.entries[accountID][idx]
	return &entry, nil
}

// Reverse implements Store.
func (m *MemoryStore) Reverse(ctx context.Context, accountID, reference string) (*domain.LedgerEntry, bool, error) {
	return reverse(ctx, m, accountID, reference)
}

// Entries implements Store. Newest entries come first.
func (m *MemoryStore) Entries(_ context.Context, accountID string, page domain.Page) ([]domain.LedgerEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.balances[accountID]; !ok {
		return nil, 0, fmt.Errorf("ledger %s: %w", accountID, domain.ErrNotFound)
	}

	all := m.entries[accountID]
	total := len(all)
	start, end := page.Slice(total)

	out := make([]domain.LedgerEntry, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, all[total-1-i])
	}
	return out, total, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

var _ Store = (*MemoryStore)(nil)
