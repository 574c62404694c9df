package group_api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"ms-settlement/internal/auth"
	"ms-settlement/internal/group"
	"ms-settlement/internal/logger"
	"ms-settlement/internal/models"
	"ms-settlement/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Coordinator *group.Coordinator
	Logger      *logger.Logger
}

type slotRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// groupView is what anyone holding the share code may see.
type groupView struct {
	ID                  string            `json:"id"`
	EventID             string            `json:"event_id"`
	TierID              string            `json:"tier_id"`
	TicketCount         int               `json:"ticket_count"`
	PricePerTicketCents int64             `json:"price_per_ticket_cents"`
	Currency            string            `json:"currency"`
	ShareCode           string            `json:"share_code"`
	Status              string            `json:"status"`
	ExpiresAt           time.Time         `json:"expires_at"`
	Paid                int               `json:"paid"`
	Participants        []participantView `json:"participants"`
}

type participantView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	Joined      bool   `json:"joined"`
}

// maskEmail keeps the first letter and the domain: a***@example.com
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func toView(g *models.GroupOrder) groupView {
	v := groupView{
		ID:                  g.ID,
		EventID:             g.EventID,
		TierID:              g.TierID,
		TicketCount:         g.TicketCount,
		PricePerTicketCents: g.PricePerTicketCents,
		Currency:            g.Currency,
		ShareCode:           g.ShareCode,
		Status:              g.Status,
		ExpiresAt:           g.ExpiresAt,
	}
	for _, p := range g.Participants {
		if p.Status == models.ParticipantPaid {
			v.Paid++
		}
		v.Participants = append(v.Participants, participantView{
			ID:          p.ID,
			Email:       maskEmail(p.Email),
			AmountCents: p.AmountCents,
			Status:      p.Status,
			Joined:      p.UserID != "",
		})
	}
	return v
}

// CreateGroupOrder handles POST /group
func (h *Handler) CreateGroupOrder(w http.ResponseWriter, r *http.Request) {
	var req group.CreateRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	claims, _ := auth.ClaimsFrom(r.Context())
	req.CreatorID = claims.Subject
	req.CreatorEmail = claims.Email
	h.Logger.Info("API", fmt.Sprintf("CreateGroupOrder: event=%s tier=%s participants=%d", req.EventID, req.TierID, len(req.Emails)))

	g, err := h.Coordinator.CreateGroupOrder(r.Context(), req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateGroupOrder: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("group order created", toView(g)))
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.Coordinator.GetByShareCode(r.Context(), chi.URLParam(r, "shareCode"))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("group order retrieved", toView(g)))
}

// Join handles POST /group/{shareCode}/join
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	shareCode := chi.URLParam(r, "shareCode")
	p, err := h.Coordinator.Join(r.Context(), shareCode, req.Email, auth.UserID(r.Context()))
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("Join: share=%s rejected: %v", shareCode, err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("joined group order", p))
}

// Checkout handles POST /group/{shareCode}/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	co, err := h.Coordinator.CreateParticipantCheckout(r.Context(), chi.URLParam(r, "shareCode"), req.Email, auth.UserID(r.Context()))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Checkout: %v", err))
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("participant checkout created", co))
}

// Reconcile handles POST /admin/group/{groupId}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	h.Logger.Info("API", fmt.Sprintf("Reconcile: group=%s by %s", groupID, auth.UserID(r.Context())))

	res, err := h.Coordinator.Reconcile(r.Context(), groupID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("group order reconciled", res))
}
