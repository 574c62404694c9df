// Package notify delivers "tickets ready" notifications off the settlement
// path. Nothing here reads or writes the ledger.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-settlement/internal/config"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/metrics"

	"github.com/cenkalti/backoff/v4"
)

// Sender delivers the ticket notification for one order.
type Sender interface {
	SendTickets(ctx context.Context, orderID string) error
}

type Dispatcher struct {
	sender  Sender
	logger  *logger.Logger
	metrics *metrics.Collectors

	queue       chan string
	workers     int
	maxAttempts int
	maxElapsed  time.Duration
	initial     time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started sync.Once
}

func NewDispatcher(sender Sender, cfg config.NotifyConfig, m *metrics.Collectors, log *logger.Logger) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender:      sender,
		logger:      log,
		metrics:     m,
		queue:       make(chan string, size),
		workers:     workers,
		maxAttempts: attempts,
		maxElapsed:  cfg.MaxElapsed,
		initial:     500 * time.Millisecond,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the workers. Calling it again is a no-op.
func (d *Dispatcher) Start() {
	d.started.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work(i)
		}
		d.logger.Info("NOTIFY", fmt.Sprintf("Dispatcher started with %d workers", d.workers))
	})
}

// Enqueue schedules a notification without blocking. It returns false when
// the queue is full or the dispatcher is closed; the drop is logged and
// counted, the caller carries on.
func (d *Dispatcher) Enqueue(orderID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(orderID, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- orderID:
		return true
	default:
		d.drop(orderID, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(orderID, why string) {
	d.metrics.Notification("dropped")
	d.logger.Warn("NOTIFY", fmt.Sprintf("Dropped ticket notification for %s: %s", orderID, why))
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()
	for orderID := range d.queue {
		d.deliver(orderID)
	}
	d.logger.Debug("NOTIFY", fmt.Sprintf("worker %d stopped", id))
}

func (d *Dispatcher) deliver(orderID string) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initial
	policy.MaxElapsedTime = d.maxElapsed

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return d.sender.SendTickets(d.ctx, orderID)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.maxAttempts-1)), d.ctx),
		func(err error, wait time.Duration) {
			d.logger.Warn("NOTIFY", fmt.Sprintf("Send for %s failed (attempt %d), retrying in %s: %v", orderID, attempt, wait, err))
		})

	if err != nil {
		d.metrics.Notification("failed")
		d.logger.Error("NOTIFY", fmt.Sprintf("Giving up on ticket notification for %s after %d attempts: %v", orderID, attempt, err))
		return
	}
	d.metrics.Notification("delivered")
	d.logger.Info("NOTIFY", fmt.Sprintf("Ticket notification sent for %s", orderID))
}

// Close stops intake and waits for queued notifications to drain. When ctx
// expires first, in-flight retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	// workers that were never started still have to drain the queue
	d.Start()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
