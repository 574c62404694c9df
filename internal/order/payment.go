package order

import (
	"context"
	"fmt"
	"strings"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/logger"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Metadata keys echoed back by the provider on every payment event.
const (
	MetaOrderID       = "order_id"
	MetaGroupOrderID  = "group_order_id"
	MetaParticipantID = "participant_id"
	MetaEmail         = "email"
)

type IntentRequest struct {
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
	ReceiptEmail   string
}

type Intent struct {
	ID           string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret"`
}

// PaymentGateway creates the provider side object a client pays against.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

type StripeGateway struct {
	client *client.API
	logger *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) *StripeGateway {
	return &StripeGateway{client: client.New(secretKey, nil), logger: log}
}

// NewStripeGatewayWithBackends points the client at custom backends.
func NewStripeGatewayWithBackends(secretKey string, backends *stripe.Backends, log *logger.Logger) *StripeGateway {
	return &StripeGateway{client: client.New(secretKey, backends), logger: log}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if req.AmountCents <= 0 {
		return nil, apperr.Validation("payment amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		g.logger.Error("STRIPE", fmt.Sprintf("Failed to create payment intent: %v", err))
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	g.logger.Info("STRIPE", fmt.Sprintf("Created payment intent %s for %d %s", pi.ID, req.AmountCents, req.Currency))
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}
