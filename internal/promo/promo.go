package promo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"

	"github.com/shopspring/decimal"
)

type Store interface {
	// GetPromo returns nil, nil when the code does not exist.
	GetPromo(ctx context.Context, code string) (*models.PromoCode, error)
	// Redeem increments usage while under the limit and reports whether it did.
	Redeem(ctx context.Context, code string) (bool, error)
	Release(ctx context.Context, code string) error
}

// Descriptor is what a valid code contributes to checkout.
type Descriptor struct {
	Code          string  `json:"code"`
	DiscountType  string  `json:"discount_type"`
	DiscountValue float64 `json:"discount_value"`
}

type Engine struct {
	store  Store
	logger *logger.Logger
}

func NewEngine(store Store, log *logger.Logger) *Engine {
	return &Engine{store: store, logger: log}
}

// Canonical trims and uppercases a user supplied code.
func Canonical(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the code against eventID at time now. Rejections are
// returned in a fixed order: not found, scope, usage, not yet active, expired.
func (e *Engine) Validate(ctx context.Context, code, eventID string, now time.Time) (*Descriptor, error) {
	code = Canonical(code)
	if code == "" {
		return nil, apperr.Validation("promo code is required")
	}

	p, err := e.store.GetPromo(ctx, code)
	if err != nil {
		return nil, apperr.Transient(err, "promo lookup failed")
	}

	// Step 1: existence and active flag
	if p == nil || !p.Active {
		return nil, apperr.NotFound(apperr.ReasonPromoNotFound, "promo code not found")
	}

	// Step 2: event scope, empty means global
	if p.EventID != "" && p.EventID != eventID {
		return nil, apperr.New(apperr.CodeValidation, apperr.ReasonPromoScope, "promo code is not valid for this event")
	}

	// Step 3: usage
	if p.UsageLimit != nil && p.UsageCount >= *p.UsageLimit {
		return nil, apperr.New(apperr.CodeValidation, apperr.ReasonPromoUsage, "promo code usage limit has been reached")
	}

	// Step 4: time window
	if p.StartsAt != nil && p.StartsAt.After(now) {
		return nil, apperr.New(apperr.CodeValidation, apperr.ReasonPromoNotYetActive, "promo code is not active yet")
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
		return nil, apperr.New(apperr.CodeValidation, apperr.ReasonPromoExpired, "promo code has expired")
	}

	return &Descriptor{
		Code:          p.Code,
		DiscountType:  p.DiscountType,
		DiscountValue: p.DiscountValue,
	}, nil
}

// ComputeDiscount returns the discount in minor units, never more than the
// subtotal and never negative.
func ComputeDiscount(subtotalCents int64, d Descriptor) int64 {
	if subtotalCents <= 0 || d.DiscountValue <= 0 {
		return 0
	}

	var discount int64
	switch d.DiscountType {
	case models.DiscountPercentage:
		discount = decimal.NewFromInt(subtotalCents).
			Mul(decimal.NewFromFloat(d.DiscountValue)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case models.DiscountFixed:
		discount = decimal.NewFromFloat(d.DiscountValue).Round(0).IntPart()
	default:
		return 0
	}

	if discount > subtotalCents {
		return subtotalCents
	}
	return discount
}

// Redeem consumes one use of the code. It fails with a usage conflict when a
// concurrent checkout took the last slot first.
func (e *Engine) Redeem(ctx context.Context, code string) error {
	code = Canonical(code)
	ok, err := e.store.Redeem(ctx, code)
	if err != nil {
		return apperr.Transient(err, "promo redemption failed")
	}
	if !ok {
		return apperr.New(apperr.CodeValidation, apperr.ReasonPromoUsage, "promo code usage limit has been reached")
	}
	e.logger.Info("PROMO", fmt.Sprintf("Redeemed promo code %s", code))
	return nil
}

// Release returns a use taken by an order whose payment failed. Errors are
// logged only.
func (e *Engine) Release(ctx context.Context, code string) {
	code = Canonical(code)
	if code == "" {
		return
	}
	if err := e.store.Release(ctx, code); err != nil {
		e.logger.Error("PROMO", fmt.Sprintf("Failed to release promo code %s: %v", code, err))
		return
	}
	e.logger.Info("PROMO", fmt.Sprintf("Released promo code %s", code))
}
