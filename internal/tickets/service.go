package tickets

import (
	"context"
	"fmt"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"
	"ms-settlement/internal/tickets/qr"
)

type ReadStore interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetByToken(ctx context.Context, token string) (*models.Ticket, error)
	ListByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	CountIssued(ctx context.Context, eventID string) (int, error)
	MarkUsed(ctx context.Context, ticketID string, at time.Time) (bool, error)
}

type Service struct {
	Store  ReadStore
	Issuer *Issuer
	Logger *logger.Logger
	now    func() time.Time
}

func NewService(store ReadStore, issuer *Issuer, log *logger.Logger) *Service {
	return &Service{
		Store:  store,
		Issuer: issuer,
		Logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HeldTicket returns the ticket only if holderID owns it.
func (s *Service) HeldTicket(ctx context.Context, ticketID, holderID string) (*models.Ticket, error) {
	ticket, err := s.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.HolderID != holderID {
		// same answer as a missing ticket so ids cannot be probed
		return nil, apperr.NotFound(apperr.ReasonTicketNotFound, "ticket not found")
	}
	return ticket, nil
}

// HeldByOrder lists the order's tickets that holderID owns.
func (s *Service) HeldByOrder(ctx context.Context, orderID, holderID string) ([]models.Ticket, error) {
	all, err := s.Store.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.Transient(err, "could not load tickets")
	}
	held := make([]models.Ticket, 0, len(all))
	for _, t := range all {
		if t.HolderID == holderID {
			held = append(held, t)
		}
	}
	return held, nil
}

// QR renders the scannable code of a held ticket.
func (s *Service) QR(ctx context.Context, ticketID, holderID string, size int) ([]byte, error) {
	ticket, err := s.HeldTicket(ctx, ticketID, holderID)
	if err != nil {
		return nil, err
	}
	png, err := qr.Encode(ticket.Token, size)
	if err != nil {
		return nil, fmt.Errorf("render qr for ticket %s: %w", ticket.ID, err)
	}
	return png, nil
}

// CheckIn validates a scanned token and flips the ticket to used. A token
// whose stored hash no longer verifies is treated as forged.
func (s *Service) CheckIn(ctx context.Context, token string) (*models.Ticket, error) {
	if token == "" {
		return nil, apperr.Validation("token is required")
	}
	ticket, err := s.Store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !s.Issuer.VerifyHash(ticket) {
		s.Logger.LogSecurity("HASH_MISMATCH", fmt.Sprintf("ticket %s failed integrity check", ticket.ID))
		return nil, apperr.New(apperr.CodeForbidden, apperr.ReasonTicketInvalid, "ticket failed integrity check")
	}
	if ticket.Status != models.TicketValid {
		return nil, apperr.Conflict(apperr.ReasonTicketInvalid, fmt.Sprintf("ticket is %s", ticket.Status))
	}

	at := s.now()
	ok, err := s.Store.MarkUsed(ctx, ticket.ID, at)
	if err != nil {
		return nil, apperr.Transient(err, "could not check in the ticket")
	}
	if !ok {
		// a concurrent scan won
		return nil, apperr.Conflict(apperr.ReasonTicketInvalid, "ticket is used")
	}

	ticket.Status = models.TicketUsed
	ticket.ForSale = false
	ticket.CheckedInAt = &at
	s.Logger.LogTicket("CHECK_IN", ticket.ID, fmt.Sprintf("serial %s admitted", ticket.Serial))
	return ticket, nil
}

func (s *Service) CountIssued(ctx context.Context, eventID string) (int, error) {
	n, err := s.Store.CountIssued(ctx, eventID)
	if err != nil {
		return 0, apperr.Transient(err, "could not count tickets")
	}
	return n, nil
}
