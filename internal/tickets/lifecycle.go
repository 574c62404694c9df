package tickets

import (
	"context"
	"fmt"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/catalog"
	"ms-settlement/internal/database"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"
	"ms-settlement/internal/utils"
)

type Action string

const (
	ActionSell          Action = "sell"
	ActionCancelSell    Action = "cancel_sell"
	ActionRefundRequest Action = "refund_request"
)

type LifecycleStore interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	SetResale(ctx context.Context, ticketID string, forSale bool, priceCents *int64) (bool, error)
	RefundExists(ctx context.Context, ticketID string) (bool, error)
	CreateRefundRequest(ctx context.Context, req *models.RefundRequest) error
}

type EventLookup interface {
	Event(ctx context.Context, id string) (*models.Event, error)
}

type ResaleRequest struct {
	TicketID   string `json:"-"`
	HolderID   string `json:"-"`
	Action     Action `json:"action" validate:"required,oneof=sell cancel_sell refund_request"`
	PriceCents *int64 `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	Reason     string `json:"reason,omitempty" validate:"max=500"`
}

type ResaleResult struct {
	Ticket        *models.Ticket        `json:"ticket"`
	RefundRequest *models.RefundRequest `json:"refund_request,omitempty"`
}

// Lifecycle moves issued tickets between resale listing and refund review.
type Lifecycle struct {
	store  LifecycleStore
	events EventLookup
	logger *logger.Logger
	now    func() time.Time
}

func NewLifecycle(store LifecycleStore, events EventLookup, log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		store:  store,
		events: events,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ResalePrice clamps the requested price to the original, defaulting to it.
func ResalePrice(requested *int64, original int64) int64 {
	if requested == nil || *requested > original {
		return original
	}
	return *requested
}

// ToggleResale applies one holder action. sell and cancel_sell need the event
// to be still running; refund_request needs it to be over.
func (l *Lifecycle) ToggleResale(ctx context.Context, req ResaleRequest) (*ResaleResult, error) {
	ticket, err := l.store.GetTicket(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.HolderID != req.HolderID {
		return nil, apperr.New(apperr.CodeForbidden, apperr.ReasonNotOwner, "you do not hold this ticket")
	}
	if ticket.Status != models.TicketValid {
		return nil, apperr.Conflict(apperr.ReasonTicketInvalid, fmt.Sprintf("ticket is %s", ticket.Status))
	}

	event, err := l.events.Event(ctx, ticket.EventID)
	if err != nil {
		return nil, err
	}
	end := catalog.EffectiveEnd(event)
	finished := l.now().After(end)

	switch req.Action {
	case ActionSell:
		if finished {
			return nil, apperr.Conflict(apperr.ReasonEventFinished, "event has finished, request a refund instead")
		}
		if req.PriceCents != nil && *req.PriceCents < 0 {
			return nil, apperr.Validation("resale price cannot be negative")
		}
		price := ResalePrice(req.PriceCents, ticket.OriginalPriceCents)
		if err := l.setResale(ctx, ticket, true, &price); err != nil {
			return nil, err
		}
		l.logger.LogTicket("SELL", ticket.ID, fmt.Sprintf("listed for resale at %d", price))
		return &ResaleResult{Ticket: ticket}, nil

	case ActionCancelSell:
		if finished {
			return nil, apperr.Conflict(apperr.ReasonEventFinished, "event has finished, the listing can no longer change")
		}
		if err := l.setResale(ctx, ticket, false, nil); err != nil {
			return nil, err
		}
		l.logger.LogTicket("CANCEL_SELL", ticket.ID, "resale listing removed")
		return &ResaleResult{Ticket: ticket}, nil

	case ActionRefundRequest:
		if !finished {
			return nil, apperr.Conflict(apperr.ReasonEventNotFinished, "event has not finished yet, list the ticket for resale instead")
		}
		refund, err := l.requestRefund(ctx, ticket, event, req.Reason)
		if err != nil {
			return nil, err
		}
		l.logger.LogTicket("REFUND_REQUEST", ticket.ID, fmt.Sprintf("refund request %s pending organizer review", refund.ID))
		return &ResaleResult{Ticket: ticket, RefundRequest: refund}, nil

	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown action %q", req.Action))
	}
}

func (l *Lifecycle) setResale(ctx context.Context, ticket *models.Ticket, forSale bool, price *int64) error {
	ok, err := l.store.SetResale(ctx, ticket.ID, forSale, price)
	if err != nil {
		return apperr.Transient(err, "could not update the ticket")
	}
	if !ok {
		return apperr.Conflict(apperr.ReasonTicketInvalid, "ticket is no longer valid")
	}
	ticket.ForSale = forSale
	ticket.ResalePriceCents = price
	return nil
}

func (l *Lifecycle) requestRefund(ctx context.Context, ticket *models.Ticket, event *models.Event, reason string) (*models.RefundRequest, error) {
	exists, err := l.store.RefundExists(ctx, ticket.ID)
	if err != nil {
		return nil, apperr.Transient(err, "could not check existing refund requests")
	}
	if exists {
		return nil, apperr.Conflict(apperr.ReasonDuplicateRequest, "a refund request for this ticket already exists")
	}

	refund := &models.RefundRequest{
		ID:          utils.NewID(),
		TicketID:    ticket.ID,
		OrderID:     ticket.OrderID,
		EventID:     ticket.EventID,
		RequesterID: ticket.HolderID,
		OrganizerID: event.OrganizerID,
		Status:      models.RefundPending,
		Reason:      reason,
		CreatedAt:   l.now(),
	}
	if err := l.store.CreateRefundRequest(ctx, refund); err != nil {
		// lost a race with a concurrent request for the same ticket
		if database.IsUniqueViolation(err) {
			return nil, apperr.Conflict(apperr.ReasonDuplicateRequest, "a refund request for this ticket already exists")
		}
		return nil, apperr.Transient(err, "could not create the refund request")
	}
	return refund, nil
}
