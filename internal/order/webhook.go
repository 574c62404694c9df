package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"

	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "validation", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

func invalidPayload(public string, err error) *WebhookError {
	return &WebhookError{
		Category:      "validation",
		StatusCode:    http.StatusBadRequest,
		PublicError:   public,
		InternalError: fmt.Sprintf("%s: %v", public, err),
		OriginalErr:   err,
	}
}

var (
	succeededTypes = map[string]bool{
		"payment_intent.succeeded":   true,
		"checkout.session.completed": true,
		"payment.succeeded":          true,
	}
	failedTypes = map[string]bool{
		"payment_intent.payment_failed": true,
		"payment_intent.canceled":       true,
		"payment.failed":                true,
	}
)

// KindOf maps a provider event type, falling back to the object status for
// generic "payment" events.
func KindOf(eventType, status string) models.PaymentEventKind {
	switch {
	case succeededTypes[eventType]:
		return models.PaymentSucceeded
	case failedTypes[eventType]:
		return models.PaymentFailed
	}
	switch strings.ToLower(status) {
	case "succeeded", "paid", "complete", "completed":
		return models.PaymentSucceeded
	case "failed", "payment_failed", "canceled":
		return models.PaymentFailed
	}
	return models.PaymentUnknown
}

// objectID accepts either a bare id or an expanded object with an id.
type objectID string

func (o *objectID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*o = objectID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*o = objectID(obj.ID)
	return nil
}

type providerObject struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	Status         string            `json:"status"`
	PaymentIntent  objectID          `json:"payment_intent"`
	CorrelationID  string            `json:"correlation_id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	AmountTotal    int64             `json:"amount_total"`
	Metadata       map[string]string `json:"metadata"`
}

type envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// correlation is the id the order was stamped with at checkout: the
// payment intent, also for checkout sessions that wrap one.
func (o providerObject) correlation() string {
	switch {
	case o.CorrelationID != "":
		return o.CorrelationID
	case o.PaymentIntent != "":
		return string(o.PaymentIntent)
	}
	return o.ID
}

func (o providerObject) amount() int64 {
	switch {
	case o.AmountReceived > 0:
		return o.AmountReceived
	case o.AmountTotal > 0:
		return o.AmountTotal
	}
	return o.Amount
}

func normalise(id, eventType string, obj providerObject) models.PaymentEvent {
	meta := obj.Metadata
	return models.PaymentEvent{
		ID:            id,
		Type:          eventType,
		Kind:          KindOf(eventType, obj.Status),
		CorrelationID: obj.correlation(),
		AmountCents:   obj.amount(),
		OrderID:       meta[MetaOrderID],
		GroupOrderID:  meta[MetaGroupOrderID],
		ParticipantID: meta[MetaParticipantID],
		Email:         meta[MetaEmail],
	}
}

// WebhookParser turns a raw provider request into a PaymentEvent. With a
// secret it requires a valid provider signature. Without one it accepts the
// payload and logs a security warning for every event.
type WebhookParser struct {
	Secret string
	Logger *logger.Logger
}

func (p *WebhookParser) Parse(payload []byte, signature string) (models.PaymentEvent, error) {
	if p.Secret != "" {
		return p.parseSigned(payload, signature)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return models.PaymentEvent{}, invalidPayload("Invalid webhook payload", err)
	}
	p.Logger.LogSecurity("UNSIGNED_WEBHOOK", fmt.Sprintf("accepted unsigned payment event %q (%s)", env.ID, env.Type))

	obj, err := decodeObject(env.Data)
	if err != nil {
		return models.PaymentEvent{}, invalidPayload("Invalid event data", err)
	}
	return normalise(env.ID, env.Type, obj), nil
}

func (p *WebhookParser) parseSigned(payload []byte, signature string) (models.PaymentEvent, error) {
	opts := webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.Secret, opts)
	if err != nil {
		p.Logger.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("rejected payment event: %v", err))
		return models.PaymentEvent{}, invalidPayload("Webhook signature verification failed", err)
	}
	var obj providerObject
	if event.Data != nil && len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
			return models.PaymentEvent{}, invalidPayload("Invalid event data", err)
		}
	}
	return normalise(event.ID, string(event.Type), obj), nil
}

// decodeObject reads either {"object": {...}} or the flat generic form.
func decodeObject(data json.RawMessage) (providerObject, error) {
	var obj providerObject
	if len(data) == 0 {
		return obj, nil
	}
	var wrapped struct {
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return obj, err
	}
	if len(wrapped.Object) > 0 && wrapped.Object[0] == '{' {
		err := json.Unmarshal(wrapped.Object, &obj)
		return obj, err
	}
	err := json.Unmarshal(data, &obj)
	return obj, err
}

// GroupSettler settles payments made by group participants.
type GroupSettler interface {
	SettleParticipantPayment(ctx context.Context, ev models.PaymentEvent) (*Outcome, error)
}

// Router sends each event to the settlement path its metadata names.
type Router struct {
	Orders *Service
	Groups GroupSettler
}

// Route falls back to the group path when an event without group metadata
// matches no order, since participants are also found by correlation id.
func (r *Router) Route(ctx context.Context, ev models.PaymentEvent) (*Outcome, error) {
	if r.Groups == nil {
		return r.Orders.SettlePayment(ctx, ev)
	}
	if ev.IsGroup() {
		return r.Groups.SettleParticipantPayment(ctx, ev)
	}
	out, err := r.Orders.SettlePayment(ctx, ev)
	if apperr.CodeOf(err) != apperr.CodeNotFound || ev.CorrelationID == "" {
		return out, err
	}
	gout, gerr := r.Groups.SettleParticipantPayment(ctx, ev)
	if gerr != nil && apperr.CodeOf(gerr) == apperr.CodeNotFound {
		return nil, err
	}
	return gout, gerr
}

type EventDeduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

// Webhooks is the provider facing entry point. Dedupe may be nil.
type Webhooks struct {
	Parser *WebhookParser
	Router *Router
	Dedupe EventDeduper
	Logger *logger.Logger
}

// Handle parses, deduplicates and settles one delivery. Errors are always
// *WebhookError so the transport can map them without inspecting causes.
func (w *Webhooks) Handle(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	ev, err := w.Parser.Parse(payload, signature)
	if err != nil {
		return nil, err
	}
	w.Logger.LogWebhook(ev.Type, ev.ID, fmt.Sprintf("received (%s, correlation=%s)", ev.Kind, ev.CorrelationID))

	dedupe := ev.Kind != models.PaymentUnknown && ev.ID != "" && w.Dedupe != nil
	if dedupe {
		seen, err := w.Dedupe.Seen(ctx, ev.ID)
		switch {
		case err != nil:
			w.Logger.Warn("REDIS", fmt.Sprintf("Webhook dedupe unavailable for %s: %v", ev.ID, err))
		case seen:
			w.Logger.LogWebhook(ev.Type, ev.ID, "duplicate delivery, skipped")
			return &Outcome{Status: OutcomeReplayed}, nil
		}
	}

	// The marker is written only after Route returns, so a delivery that dies
	// mid-settlement is processed again on redelivery.
	out, err := w.Router.Route(ctx, ev)
	if err != nil {
		w.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to settle event %s: %v", ev.ID, err))
		status := apperr.HTTPStatus(err)
		public := "Failed to process payment"
		if coded := apperr.As(err); coded != nil {
			public = coded.Message()
		}
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    status,
			PublicError:   public,
			InternalError: fmt.Sprintf("settle event %s: %v", ev.ID, err),
			OriginalErr:   err,
		}
	}
	if dedupe {
		if merr := w.Dedupe.MarkSeen(context.WithoutCancel(ctx), ev.ID); merr != nil {
			w.Logger.Warn("REDIS", fmt.Sprintf("Failed to record webhook event %s: %v", ev.ID, merr))
		}
	}
	w.Logger.LogWebhook(ev.Type, ev.ID, fmt.Sprintf("outcome %s", out.Status))
	return out, nil
}
