package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-settlement/internal/apperr"
	msgbus "ms-settlement/internal/kafka"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"
	"ms-settlement/internal/order"

	"github.com/segmentio/kafka-go"
)

type Router interface {
	Route(ctx context.Context, ev models.PaymentEvent) (*order.Outcome, error)
}

// PaymentHandler settles payment events relayed over Kafka. Retryable
// failures keep the offset so the same message is delivered again.
func PaymentHandler(router Router, log *logger.Logger) msgbus.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		var ev models.PaymentEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Malformed payment event at %s@%d: %v", msg.Topic, msg.Offset, err))
			return err
		}
		if ev.Kind == "" {
			ev.Kind = order.KindOf(ev.Type, "")
		}

		out, err := router.Route(ctx, ev)
		if err != nil {
			if apperr.Retryable(err) {
				return fmt.Errorf("%w: event %s: %v", msgbus.ErrRetry, ev.ID, err)
			}
			return err
		}
		log.LogKafka("SETTLE", msg.Topic, fmt.Sprintf("event %s -> %s", ev.ID, out.Status))
		return nil
	}
}
