package db

import (
	"context"
	"fmt"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/database"
	"ms-settlement/internal/models"

	"github.com/uptrace/bun"
)

// DB works against either the pool or an open transaction.
type DB struct {
	Bun bun.IDB
}

// ---------------- ORDERS ----------------

// CreateOrder inserts the order and its line items together.
func (d *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		if len(order.Items) == 0 {
			return nil
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
		}
		_, err := tx.NewInsert().Model(&order.Items).Exec(ctx)
		return err
	})
}

// GetOrder → fetch one order with its line items
func (d *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return d.getOrder(ctx, "id = ?", id)
}

// GetByCorrelation finds the order a payment provider event refers to.
func (d *DB) GetByCorrelation(ctx context.Context, correlationID string) (*models.Order, error) {
	if correlationID == "" {
		return nil, apperr.NotFound(apperr.ReasonOrderNotFound, "order not found")
	}
	return d.getOrder(ctx, "correlation_id = ?", correlationID)
}

func (d *DB) getOrder(ctx context.Context, where string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Relation("Items").
		Where("\"order\"."+where, arg).
		Limit(1).
		Scan(ctx)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound(apperr.ReasonOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

// SetCorrelation binds the payment provider id to a pending order.
func (d *DB) SetCorrelation(ctx context.Context, orderID, correlationID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("correlation_id = ?", correlationID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("status = ?", models.OrderPending).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set correlation for order %s: %w", orderID, err)
	}
	return nil
}

// MarkFailed moves a pending or paid order to failed. It reports false when
// the order is already completed or failed.
func (d *DB) MarkFailed(ctx context.Context, orderID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderFailed).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", orderID).
		Where("status IN (?)", bun.In([]string{models.OrderPending, models.OrderPaid})).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("fail order %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkCompleted is the settlement guard: pending or paid → completed, nothing
// else. Zero rows means someone settled (or failed) the order first.
func (d *DB) MarkCompleted(ctx context.Context, orderID string, totalCents int64, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", models.OrderCompleted).
		Set("total_cents = ?", totalCents).
		Set("completed_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", orderID).
		Where("status IN (?)", bun.In([]string{models.OrderPending, models.OrderPaid})).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("complete order %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListByUser → orders of a purchaser, newest first
func (d *DB) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Where("\"order\".user_id = ?", userID).
		OrderExpr("\"order\".created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders for user %s: %w", userID, err)
	}
	return orders, nil
}
