package notify

import (
	"context"
	"time"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type ticketEmail struct {
	OrderID     string    `json:"order_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// KafkaSender hands the notification to the mail service over Kafka.
type KafkaSender struct {
	Publisher Publisher
	Topic     string
}

func (s *KafkaSender) SendTickets(ctx context.Context, orderID string) error {
	return s.Publisher.Publish(ctx, s.Topic, orderID, ticketEmail{OrderID: orderID, RequestedAt: time.Now().UTC()})
}
