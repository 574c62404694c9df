package notify

import (
	"context"
	"errors"

	"go.uber.org/multierr"
)

// ErrNoTransport is returned by an empty Fanout so a dispatcher built without
// senders never counts a delivery.
var ErrNoTransport = errors.New("notify: no transport configured")

// Fanout delivers to every sender and joins their failures. A retry
// resends to all of them, so receivers must tolerate duplicates.
type Fanout []Sender

func (f Fanout) SendTickets(ctx context.Context, orderID string) error {
	if len(f) == 0 {
		return ErrNoTransport
	}
	var err error
	for _, s := range f {
		err = multierr.Append(err, s.SendTickets(ctx, orderID))
	}
	return err
}
