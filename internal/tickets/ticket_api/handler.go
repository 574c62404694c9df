package ticket_api

import (
	"fmt"
	"net/http"
	"strconv"

	"ms-settlement/internal/apperr"
	"ms-settlement/internal/auth"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/tickets"
	"ms-settlement/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service   *tickets.Service
	Lifecycle *tickets.Lifecycle
	Logger    *logger.Logger
}

type checkInRequest struct {
	Token string `json:"token" validate:"required"`
}

type countResponse struct {
	EventID    string `json:"event_id,omitempty"`
	TotalCount int    `json:"total_count"`
}

// ListTicketsByOrder handles GET /ticket?order_id=
func (h *Handler) ListTicketsByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		utils.WriteError(w, apperr.Validation("order_id is required"))
		return
	}
	held, err := h.Service.HeldByOrder(r.Context(), orderID, auth.UserID(r.Context()))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListTicketsByOrder: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("tickets retrieved", held))
}

func (h *Handler) ViewTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	ticket, err := h.Service.HeldTicket(r.Context(), ticketID, auth.UserID(r.Context()))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket retrieved", ticket))
}

// TicketQR streams the ticket's QR code as a PNG. ?size= picks the edge in pixels.
func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	png, err := h.Service.QR(r.Context(), ticketID, auth.UserID(r.Context()), size)
	if err != nil {
		if apperr.As(err) == nil {
			h.Logger.Error("API", fmt.Sprintf("TicketQR: %v", err))
		}
		utils.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// ToggleResale handles sell, cancel_sell and refund_request for the holder.
func (h *Handler) ToggleResale(w http.ResponseWriter, r *http.Request) {
	var req tickets.ResaleRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	req.TicketID = chi.URLParam(r, "ticketId")
	req.HolderID = auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("ToggleResale: ticket=%s action=%s", req.TicketID, req.Action))

	res, err := h.Lifecycle.ToggleResale(r.Context(), req)
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("ToggleResale: rejected: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(string(req.Action)+" applied", res))
}

// CheckinTicket admits the scanned token. Requires the scanner role.
func (h *Handler) CheckinTicket(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	ticket, err := h.Service.CheckIn(r.Context(), req.Token)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CheckinTicket: scanner=%s rejected: %v", auth.UserID(r.Context()), err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("checkin successful", ticket))
}

// GetTotalTicketsCount returns the number of issued tickets, optionally for ?event_id=.
func (h *Handler) GetTotalTicketsCount(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("event_id")
	count, err := h.Service.CountIssued(r.Context(), eventID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ticket count", countResponse{EventID: eventID, TotalCount: count}))
}
