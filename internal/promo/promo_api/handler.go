package promo_api

import (
	"fmt"
	"net/http"
	"time"

	"ms-settlement/internal/logger"
	"ms-settlement/internal/promo"
	"ms-settlement/internal/utils"
)

type Handler struct {
	Engine *promo.Engine
	Logger *logger.Logger
}

type validateRequest struct {
	Code          string `json:"code" validate:"required"`
	EventID       string `json:"event_id" validate:"required"`
	SubtotalCents int64  `json:"subtotal_cents" validate:"gte=0"`
}

type validateResponse struct {
	promo.Descriptor
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
}

// ValidatePromo checks a code for an event and previews the discount on the
// given subtotal. It never consumes a use.
func (h *Handler) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("ValidatePromo: bad request: %v", err))
		utils.WriteError(w, err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("ValidatePromo: code=%s event=%s", promo.Canonical(req.Code), req.EventID))

	d, err := h.Engine.Validate(r.Context(), req.Code, req.EventID, time.Now().UTC())
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("ValidatePromo: rejected: %v", err))
		utils.WriteError(w, err)
		return
	}

	discount := promo.ComputeDiscount(req.SubtotalCents, *d)
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("promo code applied", validateResponse{
		Descriptor:    *d,
		DiscountCents: discount,
		TotalCents:    req.SubtotalCents - discount,
	}))
}
