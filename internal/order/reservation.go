package order

import (
	"context"
	"fmt"
	"strings"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/database"
	"ms-settlement/internal/models"
	"ms-settlement/internal/pricing"
	"ms-settlement/internal/utils"

	"github.com/samber/lo"
)

// shortCodeAttempts bounds retries on a short code collision.
const shortCodeAttempts = 3

type FreeReservationRequest struct {
	EventID string            `json:"event_id" validate:"required"`
	Items   []models.LineItem `json:"items" validate:"required,min=1,dive"`
	Email   string            `json:"email" validate:"omitempty,email"`
	UserID  string            `json:"-"`
}

// Receipt is returned once tickets exist for an order.
type Receipt struct {
	Order   *models.Order   `json:"order"`
	Tickets []models.Ticket `json:"tickets"`
}

// CreateFreeReservation books zero priced tiers without a payment provider.
// Anonymous callers are resolved to a guest account by email.
func (s *Service) CreateFreeReservation(ctx context.Context, req FreeReservationRequest) (*Receipt, error) {
	if err := utils.Validate(req); err != nil {
		return nil, err
	}
	event, tiers, err := s.loadTiers(ctx, req.EventID, req.Items)
	if err != nil {
		return nil, err
	}
	if paid, ok := lo.Find(lo.Values(tiers), func(t models.Tier) bool { return t.PriceCents > 0 }); ok {
		return nil, apperr.New(apperr.CodeValidation, apperr.ReasonNotFree,
			fmt.Sprintf("tier %s is not free", paid.Name))
	}

	userID, err := s.resolveBuyer(ctx, req.UserID, req.Email)
	if err != nil {
		return nil, err
	}

	lines, items := priceLines(req.Items, tiers)
	totals := pricing.CalculateOrderTotal(lines, 0, pricing.PlanByName(event.Plan))
	order := s.newOrder(event, userID, items, totals, models.OrderPaid)
	if err := s.insertOrder(ctx, order); err != nil {
		return nil, err
	}
	s.Logger.LogOrder("FREE", order.ID, fmt.Sprintf("reserved %d items for user %s", len(items), userID))

	res, err := s.SettleOrder(ctx, order.ID, 0, "free")
	if err != nil {
		if _, ferr := s.Orders.MarkFailed(context.WithoutCancel(ctx), order.ID); ferr != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("Failed to mark free order %s failed: %v", order.ID, ferr))
		}
		s.Logger.LogOrder("FREE", order.ID, fmt.Sprintf("settlement failed, order marked failed: %v", err))
		return nil, err
	}
	return &Receipt{Order: res.Order, Tickets: res.Tickets}, nil
}

func (s *Service) loadTiers(ctx context.Context, eventID string, items []models.LineItem) (*models.Event, map[string]models.Tier, error) {
	event, err := s.Catalog.Event(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	ids := lo.Uniq(lo.Map(items, func(it models.LineItem, _ int) string { return it.TierID }))
	tiers, err := s.Catalog.Tiers(ctx, eventID, ids)
	if err != nil {
		return nil, nil, err
	}
	return event, tiers, nil
}

// resolveBuyer prefers the authenticated user and provisions a guest otherwise.
func (s *Service) resolveBuyer(ctx context.Context, userID, email string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	if strings.TrimSpace(email) == "" {
		return "", apperr.Validation("email is required when not signed in")
	}
	user, err := s.Identity.ResolveOrProvision(ctx, email)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func priceLines(items []models.LineItem, tiers map[string]models.Tier) ([]pricing.Line, []models.OrderItem) {
	lines := make([]pricing.Line, 0, len(items))
	orderItems := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		price := tiers[it.TierID].PriceCents
		lines = append(lines, pricing.Line{UnitPriceCents: price, Quantity: it.Quantity})
		orderItems = append(orderItems, models.OrderItem{
			ID:             utils.NewID(),
			TierID:         it.TierID,
			Quantity:       it.Quantity,
			UnitPriceCents: price,
		})
	}
	return lines, orderItems
}

func (s *Service) newOrder(event *models.Event, userID string, items []models.OrderItem, totals pricing.OrderTotal, status string) *models.Order {
	now := s.now()
	currency := event.Currency
	if currency == "" {
		currency = s.Currency
	}
	return &models.Order{
		ID:            utils.NewID(),
		EventID:       event.ID,
		UserID:        userID,
		TotalCents:    totals.TotalCents,
		SubtotalCents: totals.SubtotalCents,
		DiscountCents: totals.DiscountCents,
		FeeCents:      totals.FeeCents,
		Currency:      strings.ToLower(currency),
		Status:        status,
		ShortCode:     utils.ShortCode(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Items:         items,
	}
}

// insertOrder retries with a fresh short code when the generated one is taken.
func (s *Service) insertOrder(ctx context.Context, order *models.Order) error {
	var err error
	for attempt := 0; attempt < shortCodeAttempts; attempt++ {
		if attempt > 0 {
			order.ShortCode = utils.ShortCode()
		}
		err = s.Orders.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if !database.IsUniqueViolation(err) {
			break
		}
		s.Logger.Warn("ORDER", fmt.Sprintf("Short code %s collided, regenerating", order.ShortCode))
	}
	return apperr.Transient(err, "could not create order")
}
