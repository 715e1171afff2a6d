package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khaledrokaya2/goldpin/internal/domain"
)

// OrderRepository abstracts all database access for orders and their
// purchase records.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	SetStatus(ctx context.Context, id string, status domain.OrderStatus) error
	IncrementCompleted(ctx context.Context, id string) error
	RecordPurchase(ctx context.Context, rec *domain.PurchaseRecord) error
	ListPurchases(ctx context.Context, orderID string) ([]*domain.PurchaseRecord, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the OrderRepository interface.
func NewRepository(pool *pgxpool.Pool) OrderRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders
			(id, account_id, quantity, completed_count, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
	`,
		order.ID, order.AccountID, order.Quantity, order.CompletedCount,
		string(order.Status), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create order %s: %w", order.ID, err)
	}
	return nil
}

func (r *repository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, quantity, completed_count, status, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id)

	var order domain.Order
	var statusStr string
	err := row.Scan(
		&order.ID, &order.AccountID, &order.Quantity, &order.CompletedCount,
		&statusStr, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.OrderNotFoundError{OrderID: id}
		}
		return nil, fmt.Errorf("scan order %s: %w", id, err)
	}
	order.Status = domain.OrderStatus(statusStr)
	return &order, nil
}

func (r *repository) SetStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set status for order %s: %w", id, err)
	}
	return nil
}

func (r *repository) IncrementCompleted(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET completed_count = completed_count + 1, updated_at = $1
		WHERE id = $2
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("increment completed for order %s: %w", id, err)
	}
	return nil
}

func (r *repository) RecordPurchase(ctx context.Context, rec *domain.PurchaseRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO purchases
			(id, order_id, card, result, transaction_id, pin, serial,
			 stage, error, requires_manual_review, worker_id, recorded_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID, rec.OrderID, rec.Card, rec.Result, rec.TransactionID,
		rec.PIN, rec.Serial, rec.Stage.String(), rec.Error,
		rec.RequiresManualReview, rec.WorkerID, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record purchase for order %s card %d: %w", rec.OrderID, rec.Card, err)
	}
	return nil
}

func (r *repository) ListPurchases(ctx context.Context, orderID string) ([]*domain.PurchaseRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, card, result, transaction_id, pin, serial,
		       stage, error, requires_manual_review, worker_id, recorded_at
		FROM purchases
		WHERE order_id = $1
		ORDER BY recorded_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list purchases for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var records []*domain.PurchaseRecord
	for rows.Next() {
		var rec domain.PurchaseRecord
		var stageStr string
		err := rows.Scan(
			&rec.ID, &rec.OrderID, &rec.Card, &rec.Result, &rec.TransactionID,
			&rec.PIN, &rec.Serial, &stageStr, &rec.Error,
			&rec.RequiresManualReview, &rec.WorkerID, &rec.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		rec.Stage = stageFromString(stageStr)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func stageFromString(s string) domain.Stage {
	for stage := domain.StageIdle; stage <= domain.StageDone; stage++ {
		if stage.String() == s {
			return stage
		}
	}
	return domain.StageIdle
}
