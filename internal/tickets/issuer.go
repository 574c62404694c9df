package tickets

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/models"
	"ms-settlement/internal/utils"
)

// tokenBytes gives 256 bits of entropy per ticket token.
const tokenBytes = 32

// Store is the ledger surface the issuer writes through. Callers pass a
// transaction-bound implementation so the batch commits with the order.
type Store interface {
	CountByOrder(ctx context.Context, orderID string) (int, error)
	InsertBatch(ctx context.Context, tickets []models.Ticket) error
}

type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("ticket hash secret is required")
	}
	return &Issuer{secret: []byte(secret)}, nil
}

// NewToken returns a URL safe random token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash is HMAC-SHA256 over "serial.eventID" keyed with the server secret.
func (i *Issuer) Hash(serial, eventID string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(serial + "." + eventID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHash recomputes the ticket digest in constant time.
func (i *Issuer) VerifyHash(t *models.Ticket) bool {
	want := i.Hash(t.Serial, t.EventID)
	return hmac.Equal([]byte(want), []byte(t.Hash))
}

// Serial formats the per-order ticket sequence, e.g. K7Q2M9XA-003.
func Serial(shortCode string, seq int) string {
	return fmt.Sprintf("%s-%03d", shortCode, seq)
}

// Issue mints one ticket per unit of quantity across items. The sequence
// continues from the tickets already stored for the order, so a retry after a
// rolled back batch starts again at 1.
func (i *Issuer) Issue(ctx context.Context, store Store, order *models.Order, items []models.OrderItem) ([]models.Ticket, error) {
	if order == nil || order.ShortCode == "" {
		return nil, apperr.Validation("order short code is required for issuance")
	}

	existing, err := store.CountByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("count tickets for order %s: %w", order.ID, err)
	}

	now := time.Now().UTC()
	seq := existing
	var batch []models.Ticket
	for _, item := range items {
		for q := 0; q < item.Quantity; q++ {
			seq++
			token, err := NewToken()
			if err != nil {
				return nil, err
			}
			serial := Serial(order.ShortCode, seq)
			batch = append(batch, models.Ticket{
				ID:                 utils.NewID(),
				OrderID:            order.ID,
				EventID:            order.EventID,
				TierID:             item.TierID,
				HolderID:           order.UserID,
				Serial:             serial,
				Token:              token,
				Hash:               i.Hash(serial, order.EventID),
				Status:             models.TicketValid,
				OriginalPriceCents: item.UnitPriceCents,
				IssuedAt:           now,
			})
		}
	}
	if len(batch) == 0 {
		return nil, apperr.Validation("order has no ticket quantity to issue")
	}

	if err := store.InsertBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("insert %d tickets for order %s: %w", len(batch), order.ID, err)
	}
	return batch, nil
}
