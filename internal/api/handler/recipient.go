package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/author-payouts/internal/api/middleware"
	"github.com/ayo6706/author-payouts/internal/service"
	"go.uber.org/zap"
)

// RecipientHandler manages the payout identities of authors.
type RecipientHandler struct {
	recipientSvc *service.RecipientService
}

func NewRecipientHandler(recipientSvc *service.RecipientService) *RecipientHandler {
	return &RecipientHandler{recipientSvc: recipientSvc}
}

// UpsertRecipient handles PUT /v1/recipients/{id}
func (h *RecipientHandler) UpsertRecipient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req service.UpsertRecipientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.recipientSvc.Upsert(r.Context(), id, req, requestActor(r))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			RespondError(w, r, http.StatusBadRequest, "request/validation-failed", err.Error())
			return
		}
		middleware.Logger(r.Context()).Error("upsert recipient failed", zap.String("recipient_id", id.String()), zap.Error(err))
		respondInternal(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

// GetRecipient handles GET /v1/recipients/{id}
func (h *RecipientHandler) GetRecipient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.recipientSvc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrRecipientNotFound) {
			RespondError(w, r, http.StatusNotFound, "recipient/not-found", "recipient not found")
			return
		}
		respondInternal(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}
