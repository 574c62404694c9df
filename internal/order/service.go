package order

import (
	"context"
	"fmt"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/metrics"
	"ms-settlement/internal/models"
	"ms-settlement/internal/promo"
	"ms-settlement/internal/utils"
)

const (
	OutcomeCompleted = "completed"
	OutcomeReplayed  = "replayed"
	OutcomeFailed    = "failed"
	OutcomeIgnored   = "ignored"
	OutcomeWaiting   = "waiting"
)

// Outcome is what a settlement entry point did with one payment event.
type Outcome struct {
	Status      string `json:"status"`
	OrderID     string `json:"order_id,omitempty"`
	GroupID     string `json:"group_order_id,omitempty"`
	TicketCount int    `json:"ticket_count"`
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetByCorrelation(ctx context.Context, correlationID string) (*models.Order, error)
	SetCorrelation(ctx context.Context, orderID, correlationID string) error
	MarkFailed(ctx context.Context, orderID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
}

type Settler interface {
	Settle(ctx context.Context, orderID string, chargedCents int64) (*SettleResult, error)
}

type SettlementLock interface {
	AcquireSettlement(ctx context.Context, key, owner string) (bool, error)
	ReleaseSettlement(ctx context.Context, key, owner string) error
}

type Notifier interface {
	Enqueue(orderID string) bool
}

type Catalog interface {
	Event(ctx context.Context, id string) (*models.Event, error)
	Tiers(ctx context.Context, eventID string, ids []string) (map[string]models.Tier, error)
}

type Identity interface {
	ResolveOrProvision(ctx context.Context, email string) (*models.User, error)
}

type Promotions interface {
	Validate(ctx context.Context, code, eventID string, now time.Time) (*promo.Descriptor, error)
	Redeem(ctx context.Context, code string) error
	Release(ctx context.Context, code string)
}

// Deps wires the service. Lock, Notifier, Payments and Metrics may be nil.
type Deps struct {
	Orders   OrderStore
	Ledger   Settler
	Lock     SettlementLock
	Notifier Notifier
	Catalog  Catalog
	Identity Identity
	Promos   Promotions
	Payments PaymentGateway
	Metrics  *metrics.Collectors
	Logger   *logger.Logger
	Currency string
}

type Service struct {
	Deps
	now func() time.Time
}

func NewService(deps Deps) *Service {
	if deps.Currency == "" {
		deps.Currency = "usd"
	}
	return &Service{Deps: deps, now: func() time.Time { return time.Now().UTC() }}
}

// SettlePayment applies one normalised provider event to its order.
func (s *Service) SettlePayment(ctx context.Context, ev models.PaymentEvent) (*Outcome, error) {
	var (
		out *Outcome
		err error
	)
	switch ev.Kind {
	case models.PaymentSucceeded:
		out, err = s.settleSucceeded(ctx, ev)
	case models.PaymentFailed:
		out, err = s.settleFailed(ctx, ev)
	default:
		s.Logger.LogWebhook(ev.Type, ev.ID, "unhandled event type, ignored")
		out = &Outcome{Status: OutcomeIgnored}
	}
	s.Metrics.PaymentEvent(string(ev.Kind), outcomeLabel(out, err))
	return out, err
}

func (s *Service) settleSucceeded(ctx context.Context, ev models.PaymentEvent) (*Outcome, error) {
	order, err := s.findOrder(ctx, ev)
	if err != nil {
		// the order may not be committed yet; the provider will redeliver
		s.Logger.Warn("ORDER", fmt.Sprintf("No order for payment %s (order_id=%q): %v", ev.CorrelationID, ev.OrderID, err))
		return nil, err
	}
	if order.Status == models.OrderCompleted {
		s.Logger.LogOrder("REPLAY", order.ID, fmt.Sprintf("payment %s already settled", ev.CorrelationID))
		s.Metrics.Settled("order", OutcomeReplayed)
		return &Outcome{Status: OutcomeReplayed, OrderID: order.ID}, nil
	}

	res, err := s.SettleOrder(ctx, order.ID, ev.AmountCents, "order")
	if err != nil {
		return nil, err
	}
	return outcomeOf(res), nil
}

func (s *Service) settleFailed(ctx context.Context, ev models.PaymentEvent) (*Outcome, error) {
	order, err := s.findOrder(ctx, ev)
	if err != nil {
		return nil, err
	}
	ok, err := s.Orders.MarkFailed(ctx, order.ID)
	if err != nil {
		return nil, apperr.Transient(err, "could not record the failed payment")
	}
	if !ok {
		s.Logger.LogOrder("FAIL", order.ID, fmt.Sprintf("order is %s, failure ignored", order.Status))
		return &Outcome{Status: OutcomeIgnored, OrderID: order.ID}, nil
	}
	if order.PromoCode != "" && s.Promos != nil {
		s.Promos.Release(ctx, order.PromoCode)
	}
	s.Logger.LogOrder("FAIL", order.ID, fmt.Sprintf("payment %s failed", ev.CorrelationID))
	s.Metrics.Settled("order", OutcomeFailed)
	return &Outcome{Status: OutcomeFailed, OrderID: order.ID}, nil
}

// findOrder looks the order up by correlation id and falls back to the
// order id the provider echoes back in metadata.
func (s *Service) findOrder(ctx context.Context, ev models.PaymentEvent) (*models.Order, error) {
	order, err := s.Orders.GetByCorrelation(ctx, ev.CorrelationID)
	if err == nil || apperr.CodeOf(err) != apperr.CodeNotFound || ev.OrderID == "" {
		return order, err
	}
	return s.Orders.GetOrder(ctx, ev.OrderID)
}

// SettleOrder runs the ledger guard for one order under the per-order lock,
// then schedules the ticket notification. path labels metrics and logs.
func (s *Service) SettleOrder(ctx context.Context, orderID string, chargedCents int64, path string) (*SettleResult, error) {
	if s.Lock != nil {
		owner := utils.NewID()
		acquired, err := s.Lock.AcquireSettlement(ctx, orderID, owner)
		switch {
		case err != nil:
			s.Logger.Warn("REDIS", fmt.Sprintf("Settlement lock unavailable for %s, relying on ledger guard: %v", orderID, err))
		case !acquired:
			s.Metrics.Settled(path, "busy")
			return nil, apperr.New(apperr.CodeTransient, apperr.ReasonSettlementBusy, "settlement already in progress")
		default:
			defer func() {
				if err := s.Lock.ReleaseSettlement(context.WithoutCancel(ctx), orderID, owner); err != nil {
					s.Logger.Warn("REDIS", fmt.Sprintf("Failed to release settlement lock for %s: %v", orderID, err))
				}
			}()
		}
	}

	res, err := s.Ledger.Settle(ctx, orderID, chargedCents)
	if err != nil {
		s.Metrics.Settled(path, "error")
		return nil, err
	}
	if res.Replayed {
		s.Metrics.Settled(path, OutcomeReplayed)
		return res, nil
	}

	s.Metrics.Settled(path, OutcomeCompleted)
	s.Metrics.TicketsIssued(len(res.Tickets))
	if s.Notifier != nil {
		s.Notifier.Enqueue(res.Order.ID)
	}
	return res, nil
}

// GetOrder returns the order if userID placed it.
func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (*models.Order, error) {
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.NotFound(apperr.ReasonOrderNotFound, "order not found")
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := s.Orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Transient(err, "could not load orders")
	}
	return orders, nil
}

func outcomeOf(res *SettleResult) *Outcome {
	status := OutcomeCompleted
	if res.Replayed {
		status = OutcomeReplayed
	}
	return &Outcome{Status: status, OrderID: res.Order.ID, TicketCount: len(res.Tickets)}
}

func outcomeLabel(out *Outcome, err error) string {
	if err != nil {
		return string(apperr.CodeOf(err))
	}
	if out == nil {
		return ""
	}
	return out.Status
}
