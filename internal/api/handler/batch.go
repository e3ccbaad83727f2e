package handler

import (
	"errors"
	"net/http"

	"github.com/ayo6706/author-payouts/internal/api/middleware"
	"github.com/ayo6706/author-payouts/internal/service"
	"go.uber.org/zap"
)

// BatchHandler serves checkout batch registration and payout status.
type BatchHandler struct {
	batchSvc *service.BatchService
}

func NewBatchHandler(batchSvc *service.BatchService) *BatchHandler {
	return &BatchHandler{batchSvc: batchSvc}
}

// RegisterBatch handles POST /v1/batches
func (h *BatchHandler) RegisterBatch(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := h.batchSvc.Register(r.Context(), req, requestActor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, view)
}

// GetBatch handles GET /v1/batches/{id}
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.batchSvc.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, view)
}

// MarkPaid handles POST /v1/batches/{id}/paid
func (h *BatchHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.batchSvc.MarkPaid(r.Context(), id, requestActor(r), "api")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// Reconcile handles POST /v1/batches/{id}/reconcile
// The run happens asynchronously; 202 means it was queued.
func (h *BatchHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.batchSvc.Reconcile(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]string{"batch_id": id.String(), "status": "queued"})
}

func (h *BatchHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		RespondError(w, r, http.StatusBadRequest, "request/validation-failed", err.Error())
	case errors.Is(err, service.ErrBatchNotFound):
		RespondError(w, r, http.StatusNotFound, "batch/not-found", "batch not found")
	case errors.Is(err, service.ErrBatchNotEligible):
		RespondError(w, r, http.StatusConflict, "batch/not-eligible", "batch has not been paid")
	case errors.Is(err, service.ErrDuplicateBatch):
		RespondError(w, r, http.StatusConflict, "batch/duplicate", err.Error())
	default:
		middleware.Logger(r.Context()).Error("batch request failed", zap.String("path", r.URL.Path), zap.Error(err))
		respondInternal(w, r, err)
	}
}
