package kafka

import (
	"context"
	"time"

	"ms-settlement/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
}

// OrderCompleted is streamed once per settled order for downstream consumers.
type OrderCompleted struct {
	OrderID     string    `json:"order_id"`
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	TotalCents  int64     `json:"total_cents"`
	Currency    string    `json:"currency"`
	Quantity    int       `json:"quantity"`
	CompletedAt time.Time `json:"completed_at"`
}

// CompletedSender publishes the completed order. It plugs into the notify
// dispatcher next to the ticket email sender.
type CompletedSender struct {
	Publisher Publisher
	Orders    OrderReader
	Topic     string
}

func (s *CompletedSender) SendTickets(ctx context.Context, orderID string) error {
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	msg := OrderCompleted{
		OrderID:    o.ID,
		EventID:    o.EventID,
		UserID:     o.UserID,
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
	}
	for _, item := range o.Items {
		msg.Quantity += item.Quantity
	}
	if o.CompletedAt != nil {
		msg.CompletedAt = *o.CompletedAt
	}
	return s.Publisher.Publish(ctx, s.Topic, o.ID, msg)
}
