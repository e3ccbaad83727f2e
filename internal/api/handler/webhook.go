package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/author-payouts/internal/api/middleware"
	"github.com/ayo6706/author-payouts/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBytes = 512 << 10

// WebhookHandler receives payment events from the providers.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// HandleStripe handles POST /v1/webhooks/stripe
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "Stripe-Signature", h.webhookSvc.HandleStripe)
}

// HandlePaystack handles POST /v1/webhooks/paystack
func (h *WebhookHandler) HandlePaystack(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "X-Paystack-Signature", h.webhookSvc.HandlePaystack)
}

// HandleGeneric handles POST /v1/webhooks/generic
func (h *WebhookHandler) HandleGeneric(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "X-Webhook-Signature", h.webhookSvc.HandleGeneric)
}

type webhookFunc func(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, signatureHeader string, process webhookFunc) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	resp, err := process(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
		RespondJSON(w, http.StatusOK, resp)
	case errors.Is(err, service.ErrInvalidSignature):
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
	case errors.Is(err, service.ErrInvalidPayload):
		RespondError(w, r, http.StatusBadRequest, "webhook/invalid-payload", err.Error())
	default:
		middleware.Logger(r.Context()).Error("process webhook failed", zap.String("path", r.URL.Path), zap.Error(err))
		respondInternal(w, r, err)
	}
}
