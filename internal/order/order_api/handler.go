package order_api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/auth"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/order"
	"ms-settlement/internal/utils"

	"github.com/go-chi/chi/v5"
)

// maxWebhookBody caps provider payloads.
const maxWebhookBody = 64 << 10

type Handler struct {
	Orders   *order.Service
	Webhooks *order.Webhooks
	Logger   *logger.Logger
}

func NewHandler(orders *order.Service, webhooks *order.Webhooks, log *logger.Logger) *Handler {
	return &Handler{Orders: orders, Webhooks: webhooks, Logger: log}
}

// Checkout handles POST /order/checkout. Signed-in users buy for themselves,
// anonymous callers must give an email.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req order.CheckoutRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	req.UserID = auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Checkout: event=%s items=%d user=%q", req.EventID, len(req.Items), req.UserID))

	res, err := h.Orders.CreateCheckout(r.Context(), req)
	if err != nil {
		h.logFailure("Checkout", err)
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("checkout created", res))
}

// FreeReservation handles POST /order/free
func (h *Handler) FreeReservation(w http.ResponseWriter, r *http.Request) {
	var req order.FreeReservationRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	req.UserID = auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("FreeReservation: event=%s items=%d", req.EventID, len(req.Items)))

	receipt, err := h.Orders.CreateFreeReservation(r.Context(), req)
	if err != nil {
		h.logFailure("FreeReservation", err)
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("tickets reserved", receipt))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("GetOrder: orderId=%s", orderID))

	o, err := h.Orders.GetOrder(r.Context(), orderID, auth.UserID(r.Context()))
	if err != nil {
		h.logFailure("GetOrder", err)
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("order retrieved", o))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Orders.ListOrders(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logFailure("ListOrders", err)
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("orders retrieved", orders))
}

// PaymentWebhook handles events from the payment provider
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("PaymentWebhook: failed to read payload: %v", err))
		http.Error(w, "Invalid webhook payload", http.StatusBadRequest)
		return
	}

	out, err := h.Webhooks.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var webhookErr *order.WebhookError
		if errors.As(err, &webhookErr) {
			h.Logger.Info("API", fmt.Sprintf("PaymentWebhook: handling webhook error category=%s, status=%d",
				webhookErr.Category, webhookErr.StatusCode))
			utils.WriteJSON(w, webhookErr.StatusCode, utils.ErrorResponse(webhookErr.PublicError, webhookErr.Category))
			return
		}
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("event processed", out))
}

// logFailure keeps client mistakes at debug level.
func (h *Handler) logFailure(op string, err error) {
	switch apperr.CodeOf(err) {
	case apperr.CodeValidation, apperr.CodeNotFound, apperr.CodeForbidden:
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", op, err))
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	}
}
