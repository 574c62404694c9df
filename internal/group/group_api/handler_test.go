package group_api

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
	"ms-settlement/internal/group"
	groupdb "ms-settlement/internal/group/db"
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
	return &order.Intent{ID: "pi_" + req.Metadata[order.MetaParticipantID], ClientSecret: "cs"}, nil
}

func as(claims auth.Claims) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

func setupRouter(t *testing.T) func(auth.Claims) http.Handler {
	t.Helper()
	ctx := context.Background()
	bunDB := testdb.New(t)
	log := logger.NewNop()

	_, err := bunDB.NewInsert().Model(&models.Event{
		ID: "ev-1", OrganizerID: "org-1", Name: "Show", StartsAt: time.Now().Add(48 * time.Hour), Currency: "usd", Plan: "pro",
	}).Exec(ctx)
	require.NoError(t, err)
	_, err = bunDB.NewInsert().Model(&models.Tier{ID: "ga", EventID: "ev-1", Name: "GA", PriceCents: 1901}).Exec(ctx)
	require.NoError(t, err)

	issuer, err := tickets.NewIssuer("api-secret")
	require.NoError(t, err)
	orders := &orderdb.DB{Bun: bunDB}
	cat := &catalog.Store{Bun: bunDB}
	ids := &identity.Store{Bun: bunDB}
	svc := order.NewService(order.Deps{
		Orders: orders, Ledger: order.NewLedger(bunDB, issuer, log), Catalog: cat, Identity: ids, Logger: log,
	})
	h := &Handler{
		Coordinator: group.NewCoordinator(group.Deps{
			Store: &groupdb.DB{Bun: bunDB}, Orders: orders, Settler: svc, Catalog: cat, Identity: ids,
			Payments: fakeGateway{}, Logger: log,
		}),
		Logger: log,
	}

	return func(claims auth.Claims) http.Handler {
		r := chi.NewRouter()
		r.Use(as(claims))
		r.Route("/api/group", func(r chi.Router) {
			r.Post("/", h.CreateGroupOrder)
			r.Get("/{shareCode}", h.GetGroup)
			r.Post("/{shareCode}/join", h.Join)
			r.Post("/{shareCode}/checkout", h.Checkout)
		})
		r.With(auth.RequireRole(auth.AdminRole)).Post("/api/admin/group/{groupId}/reconcile", h.Reconcile)
		return r
	}
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Reason string          `json:"reason"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestGroupFlowOverHTTP(t *testing.T) {
	router := setupRouter(t)
	host := router(auth.Claims{Subject: "u-host", Email: "host@example.com"})

	rec, env := do(t, host, http.MethodPost, "/api/group/", `{"event_id":"ev-1","tier_id":"ga","emails":["host@example.com","friend@example.com"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view groupView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 2, view.TicketCount)
	require.Len(t, view.Participants, 2)
	assert.ElementsMatch(t, []string{"h***@example.com", "f***@example.com"},
		[]string{view.Participants[0].Email, view.Participants[1].Email})
	assert.True(t, view.Participants[0].Joined, "creator slot is bound on create")

	friend := router(auth.Claims{Subject: "u-friend"})
	rec, _ = do(t, friend, http.MethodPost, "/api/group/"+view.ShareCode+"/join", `{"email":"friend@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = do(t, router(auth.Claims{Subject: "u-thief"}), http.MethodPost, "/api/group/"+view.ShareCode+"/join", `{"email":"friend@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "participant_bound", env.Reason)

	rec, env = do(t, friend, http.MethodPost, "/api/group/"+view.ShareCode+"/checkout", `{"email":"friend@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var co group.ParticipantCheckout
	require.NoError(t, json.Unmarshal(env.Data, &co))
	assert.Equal(t, int64(2000), co.Participant.AmountCents)

	rec, env = do(t, friend, http.MethodGet, "/api/group/"+strings.ToLower(view.ShareCode), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.GroupPending, view.Status)
	assert.Equal(t, 0, view.Paid)
}

func TestReconcileNeedsAdmin(t *testing.T) {
	router := setupRouter(t)

	rec, _ := do(t, router(auth.Claims{Subject: "u-1"}), http.MethodPost, "/api/admin/group/g-1/reconcile", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, router(auth.Claims{Subject: "ops", Roles: []string{"admin"}}), http.MethodPost, "/api/admin/group/g-1/reconcile", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***@example.com", maskEmail("ana@example.com"))
	assert.Equal(t, "***", maskEmail("@example.com"))
}
