package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/database"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"
	orderdb "ms-settlement/internal/order/db"
	"ms-settlement/internal/tickets"
	ticketdb "ms-settlement/internal/tickets/db"

	"github.com/uptrace/bun"
)

var errAlreadySettled = errors.New("order already settled")

type SettleResult struct {
	Order    *models.Order
	Tickets  []models.Ticket
	Replayed bool
}

// Ledger owns the one transition that mints tickets. Every settlement path,
// single or group, goes through Settle.
type Ledger struct {
	DB     bun.IDB
	Issuer *tickets.Issuer
	Logger *logger.Logger
}

func NewLedger(db bun.IDB, issuer *tickets.Issuer, log *logger.Logger) *Ledger {
	return &Ledger{DB: db, Issuer: issuer, Logger: log}
}

// Settle issues the order's tickets and flips it to completed in one
// transaction. The ticket batch is written first and the conditional status
// update decides: if it matches no row the whole batch rolls back and the
// call reports the existing settlement as a replay. chargedCents overrides
// the recorded total when positive.
func (l *Ledger) Settle(ctx context.Context, orderID string, chargedCents int64) (*SettleResult, error) {
	var result *SettleResult
	err := l.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		orders := &orderdb.DB{Bun: tx}
		order, err := orders.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case models.OrderCompleted:
			return errAlreadySettled
		case models.OrderFailed:
			return apperr.Conflict(apperr.ReasonOrderFailed, "order has failed and cannot be settled")
		}

		issued, err := l.Issuer.Issue(ctx, &ticketdb.DB{Bun: tx}, order, order.Items)
		if err != nil {
			return err
		}

		total := order.TotalCents
		if chargedCents > 0 {
			total = chargedCents
		}
		now := time.Now().UTC()
		ok, err := orders.MarkCompleted(ctx, order.ID, total, now)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadySettled
		}

		order.Status = models.OrderCompleted
		order.TotalCents = total
		order.CompletedAt = &now
		order.UpdatedAt = now
		result = &SettleResult{Order: order, Tickets: issued}
		return nil
	})

	switch {
	case err == nil:
		l.Logger.LogOrder("COMPLETE", orderID, fmt.Sprintf("%d tickets issued", len(result.Tickets)))
		return result, nil
	case errors.Is(err, errAlreadySettled), database.IsUniqueViolation(err):
		// a concurrent delivery got there first or this is a redelivery
		return l.replay(ctx, orderID, err)
	case apperr.As(err) != nil:
		return nil, err
	default:
		l.Logger.Error("ORDER", fmt.Sprintf("Settlement of %s rolled back: %v", orderID, err))
		return nil, apperr.Transient(err, "settlement could not be committed")
	}
}

func (l *Ledger) replay(ctx context.Context, orderID string, cause error) (*SettleResult, error) {
	order, err := (&orderdb.DB{Bun: l.DB}).GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderCompleted {
		return nil, apperr.Wrap(apperr.CodeTransient, cause, "settlement raced with another writer, retry")
	}
	issued, err := (&ticketdb.DB{Bun: l.DB}).ListByOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.Transient(err, "could not load settled tickets")
	}
	l.Logger.LogOrder("REPLAY", orderID, "already completed, nothing issued")
	return &SettleResult{Order: order, Tickets: issued, Replayed: true}, nil
}
