package order_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ms-settlement/internal/auth"
	"ms-settlement/internal/catalog"
	"ms-settlement/internal/database/testdb"
	"ms-settlement/internal/identity"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"
	"ms-settlement/internal/order"
	orderdb "ms-settlement/internal/order/db"
	"ms-settlement/internal/tickets"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct{}

func (fakeGateway) CreateIntent(ctx context.Context, req order.IntentRequest) (*order.Intent, error) {
	return &order.Intent{ID: "pi_" + req.Metadata[order.MetaOrderID], ClientSecret: "cs"}, nil
}

func asUser(id string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id != "" {
				r = r.WithContext(auth.WithClaims(r.Context(), auth.Claims{Subject: id}))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setupRouter(t *testing.T) func(userID string) http.Handler {
	t.Helper()
	ctx := context.Background()
	bunDB := testdb.New(t)

	_, err := bunDB.NewInsert().Model(&models.Event{
		ID: "ev-1", OrganizerID: "org-1", Name: "Show", StartsAt: time.Now().Add(48 * time.Hour), Currency: "usd", Plan: "pro",
	}).Exec(ctx)
	require.NoError(t, err)
	tiers := []models.Tier{
		{ID: "ga", EventID: "ev-1", Name: "GA", PriceCents: 4000},
		{ID: "free", EventID: "ev-1", Name: "Free", PriceCents: 0},
	}
	_, err = bunDB.NewInsert().Model(&tiers).Exec(ctx)
	require.NoError(t, err)

	issuer, err := tickets.NewIssuer("handler-secret")
	require.NoError(t, err)
	log := logger.NewNop()
	svc := order.NewService(order.Deps{
		Orders:   &orderdb.DB{Bun: bunDB},
		Ledger:   order.NewLedger(bunDB, issuer, log),
		Catalog:  &catalog.Store{Bun: bunDB},
		Identity: &identity.Store{Bun: bunDB},
		Payments: fakeGateway{},
		Logger:   log,
	})
	hooks := &order.Webhooks{
		Parser: &order.WebhookParser{Logger: log},
		Router: &order.Router{Orders: svc},
		Logger: log,
	}
	h := NewHandler(svc, hooks, log)

	return func(userID string) http.Handler {
		r := chi.NewRouter()
		r.Post("/api/webhooks/payment", h.PaymentWebhook)
		r.Group(func(r chi.Router) {
			r.Use(asUser(userID))
			r.Post("/api/order/checkout", h.Checkout)
			r.Post("/api/order/free", h.FreeReservation)
			r.Get("/api/order", h.ListOrders)
			r.Get("/api/order/{orderId}", h.GetOrder)
		})
		return r
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Reason  string          `json:"reason"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestCheckoutThenWebhookCompletesOrder(t *testing.T) {
	router := setupRouter(t)
	alice := router("u-alice")

	rec, env := do(t, alice, http.MethodPost, "/api/order/checkout", `{"event_id":"ev-1","items":[{"tier_id":"ga","quantity":2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res order.CheckoutResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.NotNil(t, res.Intent)
	assert.Equal(t, models.OrderPending, res.Order.Status)

	payload := `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"` + res.Intent.ID + `","amount_received":` +
		jsonInt(res.Order.TotalCents) + `}}}`
	rec, _ = do(t, router(""), http.MethodPost, "/api/webhooks/payment", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = do(t, alice, http.MethodGet, "/api/order/"+res.Order.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Order
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, models.OrderCompleted, got.Status)

	rec, _ = do(t, router("u-bob"), http.MethodGet, "/api/order/"+res.Order.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookForUnknownOrderAsksForRetry(t *testing.T) {
	router := setupRouter(t)

	rec, _ := do(t, router(""), http.MethodPost, "/api/webhooks/payment",
		`{"id":"evt_2","type":"payment_intent.succeeded","data":{"object":{"id":"pi_none"}}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, router(""), http.MethodPost, "/api/webhooks/payment", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnonymousFreeReservation(t *testing.T) {
	router := setupRouter(t)

	rec, env := do(t, router(""), http.MethodPost, "/api/order/free", `{"event_id":"ev-1","items":[{"tier_id":"free","quantity":2}],"email":"walk-in@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var receipt order.Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Len(t, receipt.Tickets, 2)

	rec, env = do(t, router(""), http.MethodPost, "/api/order/free", `{"event_id":"ev-1","items":[{"tier_id":"ga","quantity":1}],"email":"walk-in@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "tier_not_free", env.Reason)
}

func TestCheckoutValidation(t *testing.T) {
	router := setupRouter(t)

	rec, _ := do(t, router("u-alice"), http.MethodPost, "/api/order/checkout", `{"event_id":"ev-1","items":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, router(""), http.MethodPost, "/api/order/checkout", `{"event_id":"ev-1","items":[{"tier_id":"ga","quantity":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "anonymous checkout needs an email")

	rec, _ = do(t, router("u-alice"), http.MethodPost, "/api/order/checkout", `{"event_id":"ev-404","items":[{"tier_id":"ga","quantity":1}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders(t *testing.T) {
	router := setupRouter(t)
	alice := router("u-alice")

	do(t, alice, http.MethodPost, "/api/order/checkout", `{"event_id":"ev-1","items":[{"tier_id":"ga","quantity":1}]}`)
	rec, env := do(t, alice, http.MethodGet, "/api/order", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []models.Order
	require.NoError(t, json.Unmarshal(env.Data, &orders))
	assert.Len(t, orders, 1)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
