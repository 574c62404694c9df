package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

func newWebhooks(f *fixture, secret string) *Webhooks {
	log := logger.NewNop()
	return &Webhooks{
		Parser: &WebhookParser{Secret: secret, Logger: log},
		Router: &Router{Orders: f.svc},
		Dedupe: f.lock,
		Logger: log,
	}
}

func stripePayload(t *testing.T, eventID, eventType, intentID, orderID string, amount int64) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":              intentID,
				"object":          "payment_intent",
				"amount":          amount,
				"amount_received": amount,
				"metadata":        map[string]string{MetaOrderID: orderID},
			},
		},
	})
	require.NoError(t, err)
	return b
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		eventType, status string
		want              models.PaymentEventKind
	}{
		{"payment_intent.succeeded", "", models.PaymentSucceeded},
		{"checkout.session.completed", "", models.PaymentSucceeded},
		{"payment_intent.payment_failed", "", models.PaymentFailed},
		{"payment", "paid", models.PaymentSucceeded},
		{"payment", "FAILED", models.PaymentFailed},
		{"payment", "processing", models.PaymentUnknown},
		{"customer.created", "", models.PaymentUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.eventType+"/"+tc.status, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.eventType, tc.status))
		})
	}
}

func TestParseGenericAndProviderShapes(t *testing.T) {
	p := &WebhookParser{Logger: logger.NewNop()}

	ev, err := p.Parse([]byte(`{"id":"evt_1","type":"payment","data":{"status":"succeeded","correlation_id":"pi_1","amount":900,"metadata":{"group_order_id":"g-1","participant_id":"p-1"}}}`), "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, ev.Kind)
	assert.Equal(t, "pi_1", ev.CorrelationID)
	assert.Equal(t, int64(900), ev.AmountCents)
	assert.True(t, ev.IsGroup())

	ev, err = p.Parse([]byte(`{"id":"evt_2","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_intent":{"id":"pi_2"},"amount_total":1200}}}`), "")
	require.NoError(t, err)
	assert.Equal(t, "pi_2", ev.CorrelationID)
	assert.Equal(t, int64(1200), ev.AmountCents)

	_, err = p.Parse([]byte(`not json`), "")
	var werr *WebhookError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, http.StatusBadRequest, werr.StatusCode)
}

func TestSignedWebhookSettlesOrder(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, 2, "")
	hooks := newWebhooks(f, "whsec_test")

	payload := stripePayload(t, "evt_signed", "payment_intent.succeeded", res.Intent.ID, res.Order.ID, res.Order.TotalCents)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test", Timestamp: time.Now()})

	out, err := hooks.Handle(context.Background(), signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Status)
	assert.Equal(t, 2, out.TicketCount)
}

func TestSignedWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	hooks := newWebhooks(f, "whsec_test")

	payload := stripePayload(t, "evt_forged", "payment_intent.succeeded", "pi_x", "o-x", 100)
	_, err := hooks.Handle(context.Background(), payload, fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))
	var werr *WebhookError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, http.StatusBadRequest, werr.StatusCode)
	assert.Equal(t, "validation", werr.Category)
}

func TestDuplicateDeliveryIsSkipped(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, 1, "")
	hooks := newWebhooks(f, "")
	payload := stripePayload(t, "evt_dup", "payment_intent.succeeded", res.Intent.ID, res.Order.ID, res.Order.TotalCents)

	first, err := hooks.Handle(context.Background(), payload, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, first.Status)

	second, err := hooks.Handle(context.Background(), payload, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, second.Status)
	assert.Equal(t, 1, f.notifier.count(res.Order.ID))
}

func TestRetryableFailureLeavesEventUnseen(t *testing.T) {
	f := newFixture(t)
	hooks := newWebhooks(f, "")
	payload := stripePayload(t, "evt_early", "payment_intent.succeeded", "pi_unknown", "", 100)

	_, err := hooks.Handle(context.Background(), payload, "")
	var werr *WebhookError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, http.StatusNotFound, werr.StatusCode)

	seen, err := f.lock.Seen(context.Background(), "evt_early")
	require.NoError(t, err)
	assert.False(t, seen, "a retryable failure must not leave the event marked as seen")
}

type dyingSettler struct{}

func (dyingSettler) Settle(ctx context.Context, orderID string, chargedCents int64) (*SettleResult, error) {
	panic("settlement worker died")
}

func TestRedeliveryAfterCrashedHandlerSettles(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t, 1, "")
	hooks := newWebhooks(f, "")
	payload := stripePayload(t, "evt_crash", "payment_intent.succeeded", res.Intent.ID, res.Order.ID, res.Order.TotalCents)

	ledger := f.svc.Ledger
	f.svc.Ledger = dyingSettler{}
	assert.Panics(t, func() {
		_, _ = hooks.Handle(context.Background(), payload, "")
	})
	f.svc.Ledger = ledger

	seen, err := f.lock.Seen(context.Background(), "evt_crash")
	require.NoError(t, err)
	assert.False(t, seen)

	out, err := hooks.Handle(context.Background(), payload, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Status)
	assert.Equal(t, 1, out.TicketCount)
	assert.Equal(t, 1, f.notifier.count(res.Order.ID))

	order, err := f.orders.GetOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, order.Status)

	again, err := hooks.Handle(context.Background(), payload, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, again.Status)
}

func TestUnknownEventTypeAnswersOK(t *testing.T) {
	f := newFixture(t)
	hooks := newWebhooks(f, "")

	out, err := hooks.Handle(context.Background(), []byte(`{"id":"evt_c","type":"customer.created","data":{"object":{"id":"cus_1"}}}`), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out.Status)
}

type stubGroups struct{ got []models.PaymentEvent }

func (g *stubGroups) SettleParticipantPayment(ctx context.Context, ev models.PaymentEvent) (*Outcome, error) {
	g.got = append(g.got, ev)
	return &Outcome{Status: OutcomeWaiting, GroupID: ev.GroupOrderID}, nil
}

func TestRouterSendsGroupPaymentsToCoordinator(t *testing.T) {
	f := newFixture(t)
	groups := &stubGroups{}
	r := &Router{Orders: f.svc, Groups: groups}

	out, err := r.Route(context.Background(), models.PaymentEvent{Kind: models.PaymentSucceeded, GroupOrderID: "g-1", ParticipantID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeWaiting, out.Status)
	assert.Len(t, groups.got, 1)
}
