// Package notify records user-visible events and fans them out to live
// subscribers.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/onlab/orderdesk/internal/domain"
)

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, n *domain.Notification) error
	// ListByAccount returns the account's notifications newest first and the total count.
	ListByAccount(ctx context.Context, accountID string, page domain.Page) ([]domain.Notification, int, error)
	CountUnread(ctx context.Context, accountID string) (int, error)
	// MarkRead flags one notification as read. A notification owned by
	// another account is reported as domain.ErrNotFound.
	MarkRead(ctx context.Context, accountID, id string) error
	// MarkAllRead returns the number of notifications changed.
	MarkAllRead(ctx context.Context, accountID string) (int, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*domain.Notification
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*domain.Notification)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[n.ID]; ok {
		return fmt.Errorf("notification %s: %w", n.ID, domain.ErrConflict)
	}
	stored := *n
	s.items[n.ID] = &stored
	return nil
}

// ListByAccount implements Store.
func (s *MemoryStore) ListByAccount(_ context.Context, accountID string, page domain.Page) ([]domain.Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []domain.Notification
	for _, n := range s.items {
		if n.AccountID == accountID {
			all = append(all, *n)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start, end := page.Slice(len(all))
	return all[start:end], len(all), nil
}

// CountUnread implements Store.
func (s *MemoryStore) CountUnread(_ context.Context, accountID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.items {
		if n.AccountID == accountID && !n.Read {
			count++
		}
	}
	return count, nil
}

// MarkRead implements Store.
func (s *MemoryStore) MarkRead(_ context.Context, accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[id]
	if !ok || n.AccountID != accountID {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	n.Read = true
	return nil
}

// MarkAllRead implements Store.
func (s *MemoryStore) MarkAllRead(_ context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, n := range s.items {
		if n.AccountID == accountID && !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed, nil
}

var _ Store = (*MemoryStore)(nil)
