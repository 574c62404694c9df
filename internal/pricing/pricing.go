package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Plan is an organizer commission preset. FeeFixed is in major currency units.
type Plan struct {
	Name       string
	FeePercent decimal.Decimal
	FeeFixed   decimal.Decimal
}

var (
	Pro = Plan{
		Name:       "pro",
		FeePercent: decimal.Zero,
		FeeFixed:   decimal.RequireFromString("0.99"),
	}
	Starter = Plan{
		Name:       "starter",
		FeePercent: decimal.RequireFromString("0.035"),
		FeeFixed:   decimal.RequireFromString("0.50"),
	}
)

var hundred = decimal.NewFromInt(100)

// PlanByName resolves a preset, falling back to Starter for unknown names.
func PlanByName(name string) Plan {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Pro.Name:
		return Pro
	default:
		return Starter
	}
}

type TicketPrice struct {
	BasePrice      int64  `json:"base_price"`
	ApplicationFee int64  `json:"application_fee"`
	TotalAmount    int64  `json:"total_amount"`
	Currency       string `json:"currency"`
}

// Fee returns round(base * percent) + round(fixed * 100) in minor units.
func (p Plan) Fee(basePriceCents int64) int64 {
	pct := decimal.NewFromInt(basePriceCents).Mul(p.FeePercent).Round(0)
	fixed := p.FeeFixed.Mul(hundred).Round(0)
	return pct.Add(fixed).IntPart()
}

func CalculateTicketPrice(basePriceCents int64, plan Plan, currency string) TicketPrice {
	fee := plan.Fee(basePriceCents)
	return TicketPrice{
		BasePrice:      basePriceCents,
		ApplicationFee: fee,
		TotalAmount:    basePriceCents + fee,
		Currency:       currency,
	}
}

type Line struct {
	UnitPriceCents int64
	Quantity       int
}

type OrderTotal struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	FeeCents      int64 `json:"fee_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// CalculateOrderTotal charges the plan fee once per paid ticket. Free tickets
// carry no fee. The discount is clamped to the subtotal.
func CalculateOrderTotal(lines []Line, discountCents int64, plan Plan) OrderTotal {
	var out OrderTotal
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		out.SubtotalCents += l.UnitPriceCents * int64(l.Quantity)
		if l.UnitPriceCents > 0 {
			out.FeeCents += plan.Fee(l.UnitPriceCents) * int64(l.Quantity)
		}
	}
	if discountCents < 0 {
		discountCents = 0
	}
	if discountCents > out.SubtotalCents {
		discountCents = out.SubtotalCents
	}
	out.DiscountCents = discountCents
	out.TotalCents = out.SubtotalCents - out.DiscountCents + out.FeeCents
	return out
}
