// Package accounts provisions customer accounts from verified identities.
package accounts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/ledger"
	"github.com/onlab/orderdesk/internal/logging"
)

// Store persists accounts.
type Store interface {
	// Insert creates the account unless it exists. It returns the stored account.
	Insert(ctx context.Context, account domain.Account) (*domain.Account, bool, error)
	Get(ctx context.Context, id string) (*domain.Account, error)
	UpdateDisplayName(ctx context.Context, id, name string) (*domain.Account, error)
	Count(ctx context.Context) (int64, error)
}

// DefaultKnownAccounts bounds the cache of already provisioned account ids.
const DefaultKnownAccounts = 10000

// Service owns account provisioning. Every account gets exactly one ledger.
type Service struct {
	store  Store
	ledger ledger.Store
	logger *logging.Logger

	// known skips the insert and ledger open for recently provisioned ids.
	known *lru.Cache[string, struct{}]
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	knownCapacity int
}

// WithKnownCapacity sets how many provisioned account ids are remembered.
func WithKnownCapacity(n int) ServiceOption {
	return func(o *serviceOptions) { o.knownCapacity = n }
}

// NewService creates an account service.
func NewService(store Store, ledgerStore ledger.Store, logger *logging.Logger, opts ...ServiceOption) *Service {
	o := serviceOptions{knownCapacity: DefaultKnownAccounts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.knownCapacity <= 0 {
		o.knownCapacity = DefaultKnownAccounts
	}
	known, _ := lru.New[string, struct{}](o.knownCapacity)

	return &Service{
		store:  store,
		ledger: ledgerStore,
		logger: logger,
		known:  known,
	}
}

// EnsureAccount provisions the account and its ledger on first sight of an identity.
func (s *Service) EnsureAccount(ctx context.Context, id, email, displayName string) (*domain.Account, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}

	if s.known.Contains(id) {
		return s.store.Get(ctx, id)
	}

	account, created, err := s.store.Insert(ctx, domain.Account{
		ID:          id,
		Email:       strings.ToLower(strings.TrimSpace(email)),
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("provision account: %w", err)
	}
	if err := s.ledger.Open(ctx, id); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if created {
		s.logger.WithContext(ctx).WithField("account_id", id).Info("Account provisioned")
	}

	s.known.Add(id, struct{}{})
	return account, nil
}

// Get returns an account.
func (s *Service) Get(ctx context.Context, id string) (*domain.Account, error) {
	return s.store.Get(ctx, id)
}

// UpdateDisplayName changes the user-editable display name.
func (s *Service) UpdateDisplayName(ctx context.Context, id, name string) (*domain.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 120 {
		return nil, fmt.Errorf("%w: display name must be 1-120 characters", domain.ErrInvalidInput)
	}
	return s.store.UpdateDisplayName(ctx, id, name)
}

// Count returns the number of accounts.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

// NewMemoryStore creates an empty account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]domain.Account)}
}

// Insert implements Store.
func (m *MemoryStore) Insert(_ context.Context, account domain.Account) (*domain.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.accounts[account.ID]; ok {
		return &existing, false, nil
	}
	m.accounts[account.ID] = account
	return &account, true, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return &account, nil
}

// UpdateDisplayName implements Store.
func (m *MemoryStore) UpdateDisplayName(_ context.Context, id, name string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	account.DisplayName = name
	m.accounts[id] = account
	return &account, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.accounts)), nil
}

var _ Store = (*MemoryStore)(nil)
