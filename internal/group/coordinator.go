package group

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/database"
	"ms-settlement/internal/identity"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/metrics"
	"ms-settlement/internal/models"
	"ms-settlement/internal/order"
	"ms-settlement/internal/pricing"
	"ms-settlement/internal/utils"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	// issueConcurrency bounds parallel participant settlements.
	issueConcurrency = 4
	shareCodeLength  = 10
	orderAttempts    = 3
)

// participantOrderSpace derives a stable order id per participant, so a
// rerun finds the order instead of creating a second one.
var participantOrderSpace = uuid.MustParse("6f1c9a52-4e4b-4d8f-9a34-2f0b6c8e71d3")

type Store interface {
	CreateGroup(ctx context.Context, g *models.GroupOrder) error
	GetGroup(ctx context.Context, id string) (*models.GroupOrder, error)
	GetByShareCode(ctx context.Context, code string) (*models.GroupOrder, error)
	CompleteGroup(ctx context.Context, groupID string, at time.Time) (bool, error)
	ExpireGroup(ctx context.Context, groupID string) (bool, error)
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	GetParticipantByCorrelation(ctx context.Context, correlationID string) (*models.Participant, error)
	GetParticipantByEmail(ctx context.Context, groupID, email string) (*models.Participant, error)
	BindParticipant(ctx context.Context, participantID, userID string) (bool, error)
	SetParticipantCorrelation(ctx context.Context, participantID, correlationID string) error
	MarkParticipantPaid(ctx context.Context, participantID, correlationID string, at time.Time) (bool, error)
	CountUnpaid(ctx context.Context, groupID string) (int, error)
	SetParticipantOrder(ctx context.Context, participantID, orderID string) error
}

type Orders interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
}

// OrderSettler is the single ledger guard shared with plain orders.
type OrderSettler interface {
	SettleOrder(ctx context.Context, orderID string, chargedCents int64, path string) (*order.SettleResult, error)
}

type Deps struct {
	Store    Store
	Orders   Orders
	Settler  OrderSettler
	Catalog  order.Catalog
	Identity order.Identity
	Payments order.PaymentGateway
	Metrics  *metrics.Collectors
	Logger   *logger.Logger
	Expiry   time.Duration
}

type Coordinator struct {
	Deps
	now func() time.Time
}

func NewCoordinator(deps Deps) *Coordinator {
	if deps.Expiry <= 0 {
		deps.Expiry = 48 * time.Hour
	}
	return &Coordinator{Deps: deps, now: func() time.Time { return time.Now().UTC() }}
}

type CreateRequest struct {
	EventID   string   `json:"event_id" validate:"required"`
	TierID    string   `json:"tier_id" validate:"required"`
	Emails    []string `json:"emails" validate:"required,min=1,max=50,dive,email"`
	CreatorID string   `json:"-"`
	// CreatorEmail binds the creator's own slot when it is in Emails.
	CreatorEmail string `json:"-"`
}

// CreateGroupOrder opens one slot per distinct email. Each slot owes the
// tier price plus the plan fee for one ticket.
func (c *Coordinator) CreateGroupOrder(ctx context.Context, req CreateRequest) (*models.GroupOrder, error) {
	if err := utils.Validate(req); err != nil {
		return nil, err
	}
	event, err := c.Catalog.Event(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	tiers, err := c.Catalog.Tiers(ctx, req.EventID, []string{req.TierID})
	if err != nil {
		return nil, err
	}
	tier := tiers[req.TierID]
	if tier.PriceCents <= 0 {
		return nil, apperr.Validation("group orders are only available for paid tiers")
	}

	emails := lo.Uniq(lo.Map(req.Emails, func(e string, _ int) string { return identity.NormalizeEmail(e) }))
	price := pricing.CalculateTicketPrice(tier.PriceCents, pricing.PlanByName(event.Plan), event.Currency)
	now := c.now()

	g := &models.GroupOrder{
		ID:                  utils.NewID(),
		EventID:             event.ID,
		TierID:              tier.ID,
		CreatorID:           req.CreatorID,
		TicketCount:         len(emails),
		PricePerTicketCents: tier.PriceCents,
		Currency:            strings.ToLower(event.Currency),
		ShareCode:           utils.RandomCode(shareCodeLength),
		Status:              models.GroupPending,
		ExpiresAt:           now.Add(c.Expiry),
		CreatedAt:           now,
	}
	creatorEmail := identity.NormalizeEmail(req.CreatorEmail)
	for _, email := range emails {
		p := models.Participant{
			ID:          utils.NewID(),
			Email:       email,
			AmountCents: price.TotalAmount,
			Status:      models.ParticipantPending,
		}
		if creatorEmail != "" && email == creatorEmail {
			p.UserID = req.CreatorID
		}
		g.Participants = append(g.Participants, p)
	}

	if err := c.Store.CreateGroup(ctx, g); err != nil {
		return nil, apperr.Transient(err, "could not create group order")
	}
	c.Logger.LogGroup("CREATE", g.ID, fmt.Sprintf("%d participants, %d cents each, share code %s", len(emails), price.TotalAmount, g.ShareCode))
	return g, nil
}

func (c *Coordinator) GetByShareCode(ctx context.Context, code string) (*models.GroupOrder, error) {
	return c.Store.GetByShareCode(ctx, code)
}

// openGroup loads a group that still accepts joins and payments. An expired
// deadline is persisted the first time it is noticed.
func (c *Coordinator) openGroup(ctx context.Context, g *models.GroupOrder) error {
	switch g.Status {
	case models.GroupExpired:
		return apperr.Conflict(apperr.ReasonGroupExpired, "group order has expired")
	case models.GroupCompleted:
		return apperr.Conflict(apperr.ReasonGroupClosed, "group order is already complete")
	}
	if c.now().After(g.ExpiresAt) {
		if _, err := c.Store.ExpireGroup(ctx, g.ID); err != nil {
			c.Logger.Error("GROUP", fmt.Sprintf("Failed to expire group %s: %v", g.ID, err))
		} else {
			c.Logger.LogGroup("EXPIRE", g.ID, "deadline passed")
		}
		return apperr.Conflict(apperr.ReasonGroupExpired, "group order has expired")
	}
	return nil
}

// Join binds the caller to the slot reserved for email. The first binding
// wins; binding again as the same user is a no-op.
func (c *Coordinator) Join(ctx context.Context, shareCode, email, userID string) (*models.Participant, error) {
	if userID == "" {
		return nil, apperr.Validation("sign in to join a group order")
	}
	g, err := c.Store.GetByShareCode(ctx, shareCode)
	if err != nil {
		return nil, err
	}
	if err := c.openGroup(ctx, g); err != nil {
		return nil, err
	}
	p, err := c.Store.GetParticipantByEmail(ctx, g.ID, email)
	if err != nil {
		return nil, err
	}
	return c.bind(ctx, p, userID)
}

func (c *Coordinator) bind(ctx context.Context, p *models.Participant, userID string) (*models.Participant, error) {
	if p.UserID == userID {
		return p, nil
	}
	ok, err := c.Store.BindParticipant(ctx, p.ID, userID)
	if err != nil {
		return nil, apperr.Transient(err, "could not join group order")
	}
	if !ok {
		current, err := c.Store.GetParticipant(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if current.UserID != userID {
			return nil, apperr.Conflict(apperr.ReasonParticipantBound, "this slot is already claimed by another account")
		}
		return current, nil
	}
	p.UserID = userID
	c.Logger.LogGroup("JOIN", p.GroupOrderID, fmt.Sprintf("participant %s bound to %s", p.ID, userID))
	return p, nil
}

type ParticipantCheckout struct {
	Participant *models.Participant `json:"participant"`
	Intent      *order.Intent       `json:"payment"`
}

// CreateParticipantCheckout opens a payment intent for one slot. The intent
// metadata routes the resulting provider event back to the coordinator.
func (c *Coordinator) CreateParticipantCheckout(ctx context.Context, shareCode, email, userID string) (*ParticipantCheckout, error) {
	g, err := c.Store.GetByShareCode(ctx, shareCode)
	if err != nil {
		return nil, err
	}
	if err := c.openGroup(ctx, g); err != nil {
		return nil, err
	}
	p, err := c.Store.GetParticipantByEmail(ctx, g.ID, email)
	if err != nil {
		return nil, err
	}
	if p.Status == models.ParticipantPaid {
		return nil, apperr.Conflict(apperr.ReasonAlreadyPaid, "this slot has already been paid")
	}
	if userID != "" {
		if p, err = c.bind(ctx, p, userID); err != nil {
			return nil, err
		}
	}
	if c.Payments == nil {
		return nil, apperr.Transient(nil, "payments are not configured")
	}

	intent, err := c.Payments.CreateIntent(ctx, order.IntentRequest{
		AmountCents: p.AmountCents,
		Currency:    g.Currency,
		Metadata: map[string]string{
			order.MetaGroupOrderID:  g.ID,
			order.MetaParticipantID: p.ID,
			order.MetaEmail:         p.Email,
		},
		IdempotencyKey: "participant-" + p.ID,
		ReceiptEmail:   p.Email,
	})
	if err != nil {
		return nil, apperr.Transient(err, "payment provider unavailable")
	}
	if err := c.Store.SetParticipantCorrelation(ctx, p.ID, intent.ID); err != nil {
		c.Logger.Error("GROUP", fmt.Sprintf("Failed to store payment %s on participant %s: %v", intent.ID, p.ID, err))
	} else {
		p.CorrelationID = intent.ID
	}
	return &ParticipantCheckout{Participant: p, Intent: intent}, nil
}

// SettleParticipantPayment records one participant's payment and, once the
// last slot is paid, completes the group and issues every ticket.
func (c *Coordinator) SettleParticipantPayment(ctx context.Context, ev models.PaymentEvent) (*order.Outcome, error) {
	switch ev.Kind {
	case models.PaymentSucceeded:
	case models.PaymentFailed:
		// the slot stays pending and can be paid again
		c.Logger.LogGroup("PAYMENT_FAILED", ev.GroupOrderID, fmt.Sprintf("participant %s payment %s failed", ev.ParticipantID, ev.CorrelationID))
		c.Metrics.PaymentEvent("group_failed", order.OutcomeIgnored)
		return &order.Outcome{Status: order.OutcomeIgnored, GroupID: ev.GroupOrderID}, nil
	default:
		return &order.Outcome{Status: order.OutcomeIgnored, GroupID: ev.GroupOrderID}, nil
	}

	p, err := c.resolveParticipant(ctx, ev)
	if err != nil {
		return nil, err
	}
	g, err := c.Store.GetGroup(ctx, p.GroupOrderID)
	if err != nil {
		return nil, err
	}

	if p.Status == models.ParticipantPaid && ev.CorrelationID != "" && p.CorrelationID == ev.CorrelationID {
		// redelivery of a recorded payment, finish whatever the first run left
		c.Logger.LogGroup("REPLAY", g.ID, fmt.Sprintf("participant %s payment %s already recorded", p.ID, ev.CorrelationID))
		if g.Status == models.GroupCompleted {
			out := c.issueAll(ctx, g)
			out.Status = order.OutcomeReplayed
			return out, nil
		}
		return c.completeIfAllPaid(ctx, g)
	}

	if err := c.openGroup(ctx, g); err != nil {
		return nil, err
	}
	if p.Status == models.ParticipantPaid {
		return nil, apperr.Conflict(apperr.ReasonAlreadyPaid, "participant has already paid")
	}

	ok, err := c.Store.MarkParticipantPaid(ctx, p.ID, ev.CorrelationID, c.now())
	if err != nil {
		return nil, apperr.Transient(err, "could not record participant payment")
	}
	if !ok {
		return nil, apperr.Conflict(apperr.ReasonAlreadyPaid, "participant has already paid")
	}
	c.Logger.LogGroup("PAID", g.ID, fmt.Sprintf("participant %s paid %d via %s", p.ID, ev.AmountCents, ev.CorrelationID))

	return c.completeIfAllPaid(ctx, g)
}

func (c *Coordinator) resolveParticipant(ctx context.Context, ev models.PaymentEvent) (*models.Participant, error) {
	switch {
	case ev.ParticipantID != "":
		p, err := c.Store.GetParticipant(ctx, ev.ParticipantID)
		if err != nil {
			return nil, err
		}
		if ev.GroupOrderID != "" && p.GroupOrderID != ev.GroupOrderID {
			return nil, apperr.NotFound(apperr.ReasonParticipantMissing, "participant does not belong to this group")
		}
		return p, nil
	case ev.GroupOrderID != "" && ev.Email != "":
		return c.Store.GetParticipantByEmail(ctx, ev.GroupOrderID, ev.Email)
	default:
		return c.Store.GetParticipantByCorrelation(ctx, ev.CorrelationID)
	}
}

// completeIfAllPaid recounts unpaid slots from the ledger. Only the caller
// that flips the group to completed runs issuance.
func (c *Coordinator) completeIfAllPaid(ctx context.Context, g *models.GroupOrder) (*order.Outcome, error) {
	unpaid, err := c.Store.CountUnpaid(ctx, g.ID)
	if err != nil {
		return nil, apperr.Transient(err, "could not count unpaid participants")
	}
	if unpaid > 0 {
		c.Logger.LogGroup("WAITING", g.ID, fmt.Sprintf("%d participants still to pay", unpaid))
		return &order.Outcome{Status: order.OutcomeWaiting, GroupID: g.ID}, nil
	}

	ok, err := c.Store.CompleteGroup(ctx, g.ID, c.now())
	if err != nil {
		return nil, apperr.Transient(err, "could not complete group order")
	}
	if !ok {
		return &order.Outcome{Status: order.OutcomeCompleted, GroupID: g.ID}, nil
	}
	c.Logger.LogGroup("COMPLETE", g.ID, "all participants paid, issuing tickets")

	completed, err := c.Store.GetGroup(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return c.issueAll(ctx, completed), nil
}

// issueAll settles one order per participant. Each runs on its own and a
// failure is logged and counted without stopping the rest; Reconcile picks
// up what is left.
func (c *Coordinator) issueAll(ctx context.Context, g *models.GroupOrder) *order.Outcome {
	var (
		mu     sync.Mutex
		issued int
		errs   error
	)
	var eg errgroup.Group
	eg.SetLimit(issueConcurrency)
	for i := range g.Participants {
		p := g.Participants[i]
		eg.Go(func() error {
			res, err := c.issueParticipant(ctx, g, &p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.Metrics.GroupIssuanceFailure()
				errs = multierr.Append(errs, fmt.Errorf("participant %s: %w", p.ID, err))
				return nil
			}
			if !res.Replayed {
				issued += len(res.Tickets)
			}
			return nil
		})
	}
	_ = eg.Wait()

	if errs != nil {
		failed := multierr.Errors(errs)
		c.Logger.Error("GROUP", fmt.Sprintf("Group %s: %d of %d participant orders not settled, reconcile required: %v",
			g.ID, len(failed), len(g.Participants), errs))
	}
	return &order.Outcome{Status: order.OutcomeCompleted, GroupID: g.ID, TicketCount: issued}
}

func (c *Coordinator) issueParticipant(ctx context.Context, g *models.GroupOrder, p *models.Participant) (*order.SettleResult, error) {
	orderID, err := c.participantOrder(ctx, g, p)
	if err != nil {
		return nil, err
	}
	return c.Settler.SettleOrder(ctx, orderID, p.AmountCents, "group")
}

// participantOrder returns the participant's order, creating it under a
// stable id on first use.
func (c *Coordinator) participantOrder(ctx context.Context, g *models.GroupOrder, p *models.Participant) (string, error) {
	orderID := uuid.NewSHA1(participantOrderSpace, []byte(p.ID)).String()
	if p.OrderID != "" {
		orderID = p.OrderID
	}
	if _, err := c.Orders.GetOrder(ctx, orderID); err == nil {
		return orderID, c.linkOrder(ctx, p, orderID)
	} else if apperr.CodeOf(err) != apperr.CodeNotFound {
		return "", err
	}

	holder := p.UserID
	if holder == "" {
		user, err := c.Identity.ResolveOrProvision(ctx, p.Email)
		if err != nil {
			return "", err
		}
		holder = user.ID
	}

	now := c.now()
	o := &models.Order{
		ID:            orderID,
		EventID:       g.EventID,
		UserID:        holder,
		TotalCents:    p.AmountCents,
		SubtotalCents: g.PricePerTicketCents,
		FeeCents:      p.AmountCents - g.PricePerTicketCents,
		Currency:      g.Currency,
		Status:        models.OrderPaid,
		CorrelationID: p.CorrelationID,
		GroupOrderID:  g.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Items: []models.OrderItem{{
			ID:             utils.NewID(),
			TierID:         g.TierID,
			Quantity:       1,
			UnitPriceCents: g.PricePerTicketCents,
		}},
	}
	for attempt := 0; ; attempt++ {
		o.ShortCode = utils.ShortCode()
		err := c.Orders.CreateOrder(ctx, o)
		if err == nil {
			break
		}
		if !database.IsUniqueViolation(err) || attempt+1 >= orderAttempts {
			return "", fmt.Errorf("create order for participant %s: %w", p.ID, err)
		}
		if _, gerr := c.Orders.GetOrder(ctx, orderID); gerr == nil {
			// created concurrently
			break
		}
	}
	return orderID, c.linkOrder(ctx, p, orderID)
}

func (c *Coordinator) linkOrder(ctx context.Context, p *models.Participant, orderID string) error {
	if p.OrderID == orderID {
		return nil
	}
	if err := c.Store.SetParticipantOrder(ctx, p.ID, orderID); err != nil {
		return err
	}
	p.OrderID = orderID
	return nil
}

type ReconcileResult struct {
	GroupID      string `json:"group_order_id"`
	Participants int    `json:"participants"`
	Tickets      int    `json:"tickets_issued"`
}

// Reconcile reruns issuance for a completed group. Participants already
// settled are replays of the ledger guard and issue nothing.
func (c *Coordinator) Reconcile(ctx context.Context, groupID string) (*ReconcileResult, error) {
	g, err := c.Store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.Status != models.GroupCompleted {
		return nil, apperr.Conflict(apperr.ReasonGroupClosed, "only completed group orders can be reconciled")
	}
	missing := lo.CountBy(g.Participants, func(p models.Participant) bool { return p.OrderID == "" })
	out := c.issueAll(ctx, g)
	c.Logger.LogGroup("RECONCILE", g.ID, fmt.Sprintf("%d participants had no order, %d tickets issued", missing, out.TicketCount))
	return &ReconcileResult{GroupID: g.ID, Participants: len(g.Participants), Tickets: out.TicketCount}, nil
}
