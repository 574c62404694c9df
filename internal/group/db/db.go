package db

import (
	"context"
	"fmt"
	"strings"
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

// ---------------- GROUPS ----------------

// CreateGroup inserts the group and all of its participant slots together.
func (d *DB) CreateGroup(ctx context.Context, g *models.GroupOrder) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(g).Exec(ctx); err != nil {
			return err
		}
		for i := range g.Participants {
			g.Participants[i].GroupOrderID = g.ID
		}
		if len(g.Participants) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&g.Participants).Exec(ctx)
		return err
	})
}

func (d *DB) GetGroup(ctx context.Context, id string) (*models.GroupOrder, error) {
	return d.getGroup(ctx, "id = ?", id)
}

func (d *DB) GetByShareCode(ctx context.Context, code string) (*models.GroupOrder, error) {
	return d.getGroup(ctx, "share_code = ?", strings.ToUpper(strings.TrimSpace(code)))
}

func (d *DB) getGroup(ctx context.Context, where string, arg interface{}) (*models.GroupOrder, error) {
	var g models.GroupOrder
	err := d.Bun.NewSelect().
		Model(&g).
		Relation("Participants", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("email ASC")
		}).
		Where("group_order."+where, arg).
		Limit(1).
		Scan(ctx)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound(apperr.ReasonGroupNotFound, "group order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

// CompleteGroup flips pending → completed. false means it already left pending.
func (d *DB) CompleteGroup(ctx context.Context, groupID string, at time.Time) (bool, error) {
	return d.transition(ctx, groupID, models.GroupCompleted, &at)
}

func (d *DB) ExpireGroup(ctx context.Context, groupID string) (bool, error) {
	return d.transition(ctx, groupID, models.GroupExpired, nil)
}

func (d *DB) transition(ctx context.Context, groupID, status string, completedAt *time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.GroupOrder)(nil)).
		Set("status = ?", status).
		Where("id = ?", groupID).
		Where("status = ?", models.GroupPending)
	if completedAt != nil {
		q = q.Set("completed_at = ?", *completedAt)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("move group %s to %s: %w", groupID, status, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ---------------- PARTICIPANTS ----------------

func (d *DB) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	return d.getParticipant(ctx, d.Bun.NewSelect().Where("id = ?", id))
}

func (d *DB) GetParticipantByCorrelation(ctx context.Context, correlationID string) (*models.Participant, error) {
	if correlationID == "" {
		return nil, apperr.NotFound(apperr.ReasonParticipantMissing, "participant not found")
	}
	return d.getParticipant(ctx, d.Bun.NewSelect().Where("correlation_id = ?", correlationID))
}

// GetParticipantByEmail matches case-insensitively within one group.
func (d *DB) GetParticipantByEmail(ctx context.Context, groupID, email string) (*models.Participant, error) {
	return d.getParticipant(ctx, d.Bun.NewSelect().
		Where("group_order_id = ?", groupID).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))))
}

func (d *DB) getParticipant(ctx context.Context, q *bun.SelectQuery) (*models.Participant, error) {
	var p models.Participant
	err := q.Model(&p).Limit(1).Scan(ctx)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound(apperr.ReasonParticipantMissing, "participant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &p, nil
}

// BindParticipant links a holder to the slot once. false means the slot was
// already bound.
func (d *DB) BindParticipant(ctx context.Context, participantID, userID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Participant)(nil)).
		Set("user_id = ?", userID).
		Where("id = ?", participantID).
		Where("user_id IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("bind participant %s: %w", participantID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (d *DB) SetParticipantCorrelation(ctx context.Context, participantID, correlationID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Participant)(nil)).
		Set("correlation_id = ?", correlationID).
		Where("id = ?", participantID).
		Where("status = ?", models.ParticipantPending).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set correlation for participant %s: %w", participantID, err)
	}
	return nil
}

// MarkParticipantPaid is the pending → paid transition. false means the
// participant had already paid.
func (d *DB) MarkParticipantPaid(ctx context.Context, participantID, correlationID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Participant)(nil)).
		Set("status = ?", models.ParticipantPaid).
		Set("paid_at = ?", at).
		Set("correlation_id = ?", correlationID).
		Where("id = ?", participantID).
		Where("status = ?", models.ParticipantPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark participant %s paid: %w", participantID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CountUnpaid reads participant rows directly; completion is never cached.
func (d *DB) CountUnpaid(ctx context.Context, groupID string) (int, error) {
	n, err := d.Bun.NewSelect().
		Model((*models.Participant)(nil)).
		Where("group_order_id = ?", groupID).
		Where("status <> ?", models.ParticipantPaid).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count unpaid participants of %s: %w", groupID, err)
	}
	return n, nil
}

func (d *DB) SetParticipantOrder(ctx context.Context, participantID, orderID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Participant)(nil)).
		Set("order_id = ?", orderID).
		Where("id = ?", participantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("link order to participant %s: %w", participantID, err)
	}
	return nil
}
