package order

import (
	"context"
	"fmt"
	"strings"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/models"
	"ms-settlement/internal/pricing"
	"ms-settlement/internal/promo"
	"ms-settlement/internal/utils"

	"github.com/samber/lo"
)

type CheckoutRequest struct {
	EventID   string            `json:"event_id" validate:"required"`
	Items     []models.LineItem `json:"items" validate:"required,min=1,dive"`
	PromoCode string            `json:"promo_code,omitempty"`
	Email     string            `json:"email" validate:"omitempty,email"`
	UserID    string            `json:"-"`
}

// CheckoutResult carries either a payment intent to complete client side or,
// when nothing is payable, the issued tickets.
type CheckoutResult struct {
	Order   *models.Order   `json:"order"`
	Intent  *Intent         `json:"payment,omitempty"`
	Tickets []models.Ticket `json:"tickets,omitempty"`
	Free    bool            `json:"free"`
}

// CreateCheckout prices the cart and opens a payment intent whose id becomes
// the order's correlation id. Paid tiers always carry the plan fee, so a
// fully discounted cart still collects it.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := utils.Validate(req); err != nil {
		return nil, err
	}
	event, tiers, err := s.loadTiers(ctx, req.EventID, req.Items)
	if err != nil {
		return nil, err
	}

	allFree := lo.EveryBy(lo.Values(tiers), func(t models.Tier) bool { return t.PriceCents == 0 })
	if allFree {
		receipt, err := s.CreateFreeReservation(ctx, FreeReservationRequest{
			EventID: req.EventID,
			Items:   req.Items,
			Email:   req.Email,
			UserID:  req.UserID,
		})
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{Order: receipt.Order, Tickets: receipt.Tickets, Free: true}, nil
	}

	userID, err := s.resolveBuyer(ctx, req.UserID, req.Email)
	if err != nil {
		return nil, err
	}

	lines, items := priceLines(req.Items, tiers)
	var subtotal int64
	for _, l := range lines {
		subtotal += l.UnitPriceCents * int64(l.Quantity)
	}

	code := promo.Canonical(req.PromoCode)
	var discount int64
	if code != "" {
		if s.Promos == nil {
			return nil, apperr.NotFound(apperr.ReasonPromoNotFound, "promo code not found")
		}
		desc, err := s.Promos.Validate(ctx, code, event.ID, s.now())
		if err != nil {
			return nil, err
		}
		discount = promo.ComputeDiscount(subtotal, *desc)
	}
	totals := pricing.CalculateOrderTotal(lines, discount, pricing.PlanByName(event.Plan))

	if code != "" {
		if err := s.Promos.Redeem(ctx, code); err != nil {
			return nil, err
		}
	}

	order := s.newOrder(event, userID, items, totals, models.OrderPending)
	order.PromoCode = code
	if err := s.insertOrder(ctx, order); err != nil {
		s.releasePromo(ctx, code)
		return nil, err
	}

	if s.Payments == nil {
		s.abandon(ctx, order)
		return nil, apperr.Transient(nil, "payments are not configured")
	}
	intent, err := s.Payments.CreateIntent(ctx, IntentRequest{
		AmountCents:    totals.TotalCents,
		Currency:       order.Currency,
		Metadata:       map[string]string{MetaOrderID: order.ID},
		IdempotencyKey: "order-" + order.ID,
		ReceiptEmail:   req.Email,
	})
	if err != nil {
		s.abandon(ctx, order)
		return nil, apperr.Transient(err, "payment provider unavailable")
	}

	if err := s.Orders.SetCorrelation(ctx, order.ID, intent.ID); err != nil {
		// settlement still finds the order through the metadata order id
		s.Logger.Error("ORDER", fmt.Sprintf("Failed to store payment intent %s on order %s: %v", intent.ID, order.ID, err))
	} else {
		order.CorrelationID = intent.ID
	}
	s.Logger.LogOrder("CHECKOUT", order.ID, fmt.Sprintf("awaiting payment %s for %d %s",
		intent.ID, totals.TotalCents, strings.ToUpper(order.Currency)))
	return &CheckoutResult{Order: order, Intent: intent}, nil
}

// abandon fails an order whose payment could not be started.
func (s *Service) abandon(ctx context.Context, order *models.Order) {
	if _, err := s.Orders.MarkFailed(ctx, order.ID); err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("Failed to mark order %s failed: %v", order.ID, err))
	}
	s.releasePromo(ctx, order.PromoCode)
}

func (s *Service) releasePromo(ctx context.Context, code string) {
	if code != "" && s.Promos != nil {
		s.Promos.Release(ctx, code)
	}
}
