package catalog

import (
	"context"
	"fmt"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/database"
	"ms-settlement/internal/models"

	"github.com/uptrace/bun"
)

// EndFallback estimates an event's end when the organizer did not set one.
const EndFallback = 6 * time.Hour

// EffectiveEnd returns the explicit end time or start + EndFallback.
func EffectiveEnd(e *models.Event) time.Time {
	if e.EndsAt != nil && !e.EndsAt.IsZero() {
		return *e.EndsAt
	}
	return e.StartsAt.Add(EndFallback)
}

type Store struct {
	Bun bun.IDB
}

func (s *Store) Event(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := s.Bun.NewSelect().Model(&event).Where("id = ?", id).Limit(1).Scan(ctx)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("event_not_found", "event not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return &event, nil
}

func (s *Store) Tier(ctx context.Context, id string) (*models.Tier, error) {
	var tier models.Tier
	err := s.Bun.NewSelect().Model(&tier).Where("id = ?", id).Limit(1).Scan(ctx)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("tier_not_found", "ticket tier not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get tier %s: %w", id, err)
	}
	return &tier, nil
}

// Tiers loads the requested tiers of one event keyed by ID. Every ID must
// exist and belong to eventID.
func (s *Store) Tiers(ctx context.Context, eventID string, ids []string) (map[string]models.Tier, error) {
	var tiers []models.Tier
	if len(ids) > 0 {
		err := s.Bun.NewSelect().
			Model(&tiers).
			Where("event_id = ?", eventID).
			Where("id IN (?)", bun.In(ids)).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tiers for event %s: %w", eventID, err)
		}
	}

	byID := make(map[string]models.Tier, len(tiers))
	for _, t := range tiers {
		byID[t.ID] = t
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, apperr.NotFound("tier_not_found", fmt.Sprintf("tier %s does not belong to this event", id))
		}
	}
	return byID, nil
}
