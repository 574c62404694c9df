package order

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-settlement/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestStripeGatewayCreatesIntent(t *testing.T) {
	var form map[string]string
	var idempotency string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		form = map[string]string{
			"amount":             r.PostForm.Get("amount"),
			"currency":           r.PostForm.Get("currency"),
			"metadata[order_id]": r.PostForm.Get("metadata[order_id]"),
		}
		idempotency = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_123","object":"payment_intent","client_secret":"pi_123_secret_abc","amount":5276,"currency":"usd"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	gw := NewStripeGatewayWithBackends("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend}, logger.NewNop())

	intent, err := gw.CreateIntent(context.Background(), IntentRequest{
		AmountCents:    5276,
		Currency:       "USD",
		Metadata:       map[string]string{MetaOrderID: "o-1"},
		IdempotencyKey: "order-o-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.Equal(t, "5276", form["amount"])
	assert.Equal(t, "usd", form["currency"])
	assert.Equal(t, "o-1", form["metadata[order_id]"])
	assert.Equal(t, "order-o-1", idempotency)
}

func TestStripeGatewayRejectsNonPositiveAmount(t *testing.T) {
	gw := NewStripeGateway("sk_test_123", logger.NewNop())
	_, err := gw.CreateIntent(context.Background(), IntentRequest{AmountCents: 0, Currency: "usd"})
	assert.Error(t, err)
}
