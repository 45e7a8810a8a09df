package notify

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/onlab/orderdesk/internal/database"
	"github.com/onlab/orderdesk/internal/domain"
)

const notificationColumns = `id, account_id, message, is_read, created_at`

// PostgresStore persists notifications in the notifications table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a notification store.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, n *domain.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5)
	`, n.ID, n.AccountID, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("notification %s: %w", n.ID, domain.ErrConflict)
		}
		return database.Classify(fmt.Errorf("insert notification: %w", err))
	}
	return nil
}

// ListByAccount implements Store.
func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, page domain.Page) ([]domain.Notification, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications WHERE account_id = $1`, accountID); err != nil {
		return nil, 0, database.Classify(fmt.Errorf("count notifications: %w", err))
	}

	items := []domain.Notification{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, accountID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, database.Classify(fmt.Errorf("list notifications: %w", err))
	}
	return items, total, nil
}

// CountUnread implements Store.
func (s *PostgresStore) CountUnread(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM notifications WHERE account_id = $1 AND NOT is_read`, accountID)
	if err != nil {
		return 0, database.Classify(fmt.Errorf("count unread: %w", err))
	}
	return n, nil
}

// MarkRead implements Store.
func (s *PostgresStore) MarkRead(ctx context.Context, accountID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND account_id = $2
	`, id, accountID)
	if err != nil {
		return database.Classify(fmt.Errorf("mark read: %w", err))
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkAllRead implements Store.
func (s *PostgresStore) MarkAllRead(ctx context.Context, accountID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE account_id = $1 AND NOT is_read
	`, accountID)
	if err != nil {
		return 0, database.Classify(fmt.Errorf("mark all read: %w", err))
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}

var _ Store = (*PostgresStore)(nil)
