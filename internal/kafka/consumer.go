package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-settlement/internal/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ErrRetry tells the consumer to redeliver the message instead of committing.
var ErrRetry = errors.New("retry message")

// HandlerFunc processes one message. Returning an error wrapping ErrRetry
// retries the same message with backoff, up to the consumer's MaxRetries.
// Any other result commits.
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	Reader MessageReader
	Logger *logger.Logger
	// MaxRetries caps redeliveries of one message before it is committed and
	// skipped. Zero retries until the context is cancelled.
	MaxRetries uint64

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{Reader: reader, Logger: log, MaxRetries: 10, initialBackoff: 500 * time.Millisecond, maxBackoff: 30 * time.Second}
}

// Run fetches and handles messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	c.Logger.LogKafka("CONSUME", "", "consumer started")
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.handleWithRetry(ctx, msg, handle); err != nil {
			// cancelled; the offset stays uncommitted
			return nil
		}
		if err := c.Reader.CommitMessages(ctx, msg); err != nil {
			c.Logger.Error("KAFKA", fmt.Sprintf("Commit failed for %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err))
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message, handle HandlerFunc) error {
	policy := backoff.NewExponentialBackOff()
	if c.initialBackoff > 0 {
		policy.InitialInterval = c.initialBackoff
	}
	if c.maxBackoff > 0 {
		policy.MaxInterval = c.maxBackoff
	}
	policy.MaxElapsedTime = 0

	var b backoff.BackOff = policy
	if c.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, c.MaxRetries)
	}

	err := backoff.RetryNotify(func() error {
		err := handle(ctx, msg)
		if err == nil || !errors.Is(err, ErrRetry) {
			if err != nil {
				c.Logger.Warn("KAFKA", fmt.Sprintf("Dropping %s@%d after permanent error: %v", msg.Topic, msg.Offset, err))
			}
			return nil
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.Logger.Warn("KAFKA", fmt.Sprintf("Retrying %s@%d in %s: %v", msg.Topic, msg.Offset, wait, err))
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.Logger.Error("KAFKA", fmt.Sprintf("Giving up on %s/%d@%d after %d retries, committing: %v", msg.Topic, msg.Partition, msg.Offset, c.MaxRetries, err))
	return nil
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.Reader.Close()
}
