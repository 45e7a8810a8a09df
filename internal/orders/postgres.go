package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/onlab/orderdesk/internal/database"
	"github.com/onlab/orderdesk/internal/domain"
)

const orderColumns = `id, account_id, kind, name, input_ref, price, state,
	COALESCE(submit_key, '') AS submit_key, failure_reason, created_at, updated_at`

// PostgresRepository stores orders in the orders and order_results tables.
type PostgresRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresRepository creates an order repository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Create implements Repository.
func (r *PostgresRepository) Create(ctx context.Context, order *domain.Order) (string, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := r.now().UTC()
	order.State = domain.StateCreated
	order.CreatedAt = now
	order.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, kind, name, input_ref, price, state, submit_key, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), '', $9, $10)
	`, order.ID, order.AccountID, order.Kind, order.Name, order.InputRef, order.Price, order.State,
		order.SubmitKey, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return "", domain.ErrDuplicateSubmitKey
		}
		return "", database.Classify(fmt.Errorf("insert order: %w", err))
	}
	return order.ID, nil
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	if err := r.db.GetContext(ctx, &order, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id); err != nil {
		if database.IsNoRows(err) {
			return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		return nil, database.Classify(fmt.Errorf("get order: %w", err))
	}
	return &order, nil
}

// GetBySubmitKey implements Repository.
func (r *PostgresRepository) GetBySubmitKey(ctx context.Context, accountID, key string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.GetContext(ctx, &order, `SELECT `+orderColumns+` FROM orders WHERE account_id = $1 AND submit_key = $2`, accountID, key)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, fmt.Errorf("order with submit key: %w", domain.ErrNotFound)
		}
		return nil, database.Classify(fmt.Errorf("get order by submit key: %w", err))
	}
	return &order, nil
}

// ListByAccount implements Repository.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, page domain.Page) ([]domain.Order, int, error) {
	return r.List(ctx, Filter{AccountID: accountID}, page)
}

// List implements Repository.
func (r *PostgresRepository) List(ctx context.Context, filter Filter, page domain.Page) ([]domain.Order, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM orders`+clause, args...); err != nil {
		return nil, 0, database.Classify(fmt.Errorf("count orders: %w", err))
	}

	args = append(args, page.Size, page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, clause, len(args)-1, len(args))

	items := []domain.Order{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, database.Classify(fmt.Errorf("list orders: %w", err))
	}
	return items, total, nil
}

// Transition implements Repository.
func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to domain.OrderState) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	return r.compareAndSet(ctx, r.db, id, from, to, "")
}

// MarkFailed implements Repository.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.compareAndSet(ctx, r.db, id, domain.StateCreated, domain.StateFailed, reason)
}

func (r *PostgresRepository) compareAndSet(ctx context.Context, exec sqlx.ExtContext, id string, from, to domain.OrderState, reason string) error {
	res, err := exec.ExecContext(ctx, `
		UPDATE orders
		SET state = $3, failure_reason = CASE WHEN $4 = '' THEN failure_reason ELSE $4 END, updated_at = $5
		WHERE id = $1 AND state = $2
	`, id, from, to, reason, r.now().UTC())
	if err != nil {
		return database.Classify(fmt.Errorf("transition order: %w", err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return database.Classify(fmt.Errorf("transition order: %w", err))
	}
	if rows == 1 {
		return nil
	}
	return r.explainMiss(ctx, exec, id, from)
}

// explainMiss distinguishes a missing order from a state mismatch after a CAS miss.
func (r *PostgresRepository) explainMiss(ctx context.Context, exec sqlx.QueryerContext, id string, expected domain.OrderState) error {
	var state domain.OrderState
	if err := sqlx.GetContext(ctx, exec, &state, `SELECT state FROM orders WHERE id = $1`, id); err != nil {
		if database.IsNoRows(err) {
			return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		return database.Classify(fmt.Errorf("load order state: %w", err))
	}
	return fmt.Errorf("%w: order %s is %s, expected %s", domain.ErrInvalidTransition, id, state, expected)
}

// SetInput implements Repository.
func (r *PostgresRepository) SetInput(ctx context.Context, id, ref string, price int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET input_ref = $2, price = $3, updated_at = $4
		WHERE id = $1 AND state = 'created'
	`, id, ref, price, r.now().UTC())
	if err != nil {
		return database.Classify(fmt.Errorf("set input: %w", err))
	}
	if rows, _ := res.RowsAffected(); rows == 1 {
		return nil
	}
	if err := r.explainMiss(ctx, r.db, id, domain.StateCreated); err != nil && !isInvalidTransition(err) {
		return err
	}
	return fmt.Errorf("%w: order %s is no longer created", domain.ErrInvalidState, id)
}

// ListStale implements Repository.
func (r *PostgresRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	items := []domain.Order{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE state = 'created' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, before.UTC(), limit)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("list stale orders: %w", err))
	}
	return items, nil
}

// Fulfill implements Repository.
func (r *PostgresRepository) Fulfill(ctx context.Context, result *domain.Result) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = r.now().UTC()
	}
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_results (order_id, ai_score, plag_score, report_paths, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, result.OrderID, nullDecimal(result.AIScore), nullDecimal(result.PlagScore),
			pq.Array(result.ReportPaths), result.CreatedAt)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("order %s: %w", result.OrderID, domain.ErrDuplicateResult)
			}
			return database.Classify(fmt.Errorf("insert result: %w", err))
		}
		return r.compareAndSet(ctx, tx, result.OrderID, domain.StatePaid, domain.StateFulfilled, "")
	})
}

type resultRow struct {
	OrderID     string              `db:"order_id"`
	AIScore     decimal.NullDecimal `db:"ai_score"`
	PlagScore   decimal.NullDecimal `db:"plag_score"`
	ReportPaths pq.StringArray      `db:"report_paths"`
	CreatedAt   time.Time           `db:"created_at"`
}

// GetResult implements Repository.
func (r *PostgresRepository) GetResult(ctx context.Context, orderID string) (*domain.Result, error) {
	var row resultRow
	err := r.db.GetContext(ctx, &row, `
		SELECT order_id, ai_score, plag_score, report_paths, created_at
		FROM order_results WHERE order_id = $1
	`, orderID)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, fmt.Errorf("result for order %s: %w", orderID, domain.ErrNotFound)
		}
		return nil, database.Classify(fmt.Errorf("get result: %w", err))
	}

	result := &domain.Result{
		OrderID:     row.OrderID,
		ReportPaths: []string(row.ReportPaths),
		CreatedAt:   row.CreatedAt,
	}
	if row.AIScore.Valid {
		v := row.AIScore.Decimal
		result.AIScore = &v
	}
	if row.PlagScore.Valid {
		v := row.PlagScore.Decimal
		result.PlagScore = &v
	}
	return result, nil
}

type stateRow struct {
	State   domain.OrderState `db:"state"`
	Count   int64             `db:"count"`
	Revenue int64             `db:"revenue"`
}

// Stats implements Repository.
func (r *PostgresRepository) Stats(ctx context.Context) (domain.Stats, error) {
	rows := []stateRow{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT state, COUNT(*) AS count, COALESCE(SUM(price), 0) AS revenue
		FROM orders
		GROUP BY state
	`)
	if err != nil {
		return domain.Stats{}, database.Classify(fmt.Errorf("order stats: %w", err))
	}

	stats := domain.Stats{ByState: make(map[domain.OrderState]int64)}
	for _, row := range rows {
		stats.ByState[row.State] = row.Count
		stats.Total += row.Count
		if countsAsRevenue(row.State) {
			stats.Revenue += row.Revenue
		}
	}
	return stats, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

var _ Repository = (*PostgresRepository)(nil)
