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

// ---------------- ISSUANCE ----------------

func (d *DB) CountByOrder(ctx context.Context, orderID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("order_id = ?", orderID).
		Count(ctx)
}

func (d *DB) InsertBatch(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&tickets).Exec(ctx)
	return err
}

// ---------------- READS ----------------

func (d *DB) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().Model(&ticket).Where("id = ?", id).Limit(1).Scan(ctx)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound(apperr.ReasonTicketNotFound, "ticket not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return &ticket, nil
}

func (d *DB) GetByToken(ctx context.Context, token string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().Model(&ticket).Where("token = ?", token).Limit(1).Scan(ctx)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound(apperr.ReasonTicketNotFound, "ticket not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket by token: %w", err)
	}
	return &ticket, nil
}

func (d *DB) ListByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		Order("serial ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets for order %s: %w", orderID, err)
	}
	return tickets, nil
}

// CountIssued returns the number of tickets minted, optionally for one event.
func (d *DB) CountIssued(ctx context.Context, eventID string) (int, error) {
	q := d.Bun.NewSelect().Model((*models.Ticket)(nil))
	if eventID != "" {
		q = q.Where("event_id = ?", eventID)
	}
	return q.Count(ctx)
}

// ---------------- LIFECYCLE ----------------

// SetResale updates the resale listing of a valid ticket. It reports false
// when the ticket is no longer valid.
func (d *DB) SetResale(ctx context.Context, ticketID string, forSale bool, priceCents *int64) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("for_sale = ?", forSale).
		Set("resale_price_cents = ?", priceCents).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update resale for ticket %s: %w", ticketID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkUsed flips a valid ticket to used.
func (d *DB) MarkUsed(ctx context.Context, ticketID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketUsed).
		Set("for_sale = ?", false).
		Set("checked_in_at = ?", at).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("check in ticket %s: %w", ticketID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (d *DB) RefundExists(ctx context.Context, ticketID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.RefundRequest)(nil)).
		Where("ticket_id = ?", ticketID).
		Exists(ctx)
}

func (d *DB) CreateRefundRequest(ctx context.Context, req *models.RefundRequest) error {
	_, err := d.Bun.NewInsert().Model(req).Exec(ctx)
	return err
}
