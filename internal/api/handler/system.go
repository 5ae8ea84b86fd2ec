package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/windseeker5/minipass-env-sub001/internal/api/middleware"
	"github.com/windseeker5/minipass-env-sub001/internal/api/response"
	"github.com/windseeker5/minipass-env-sub001/internal/sweeper"
)

// Sweep runs one reconciliation pass over the Docker host. Satisfied by
// *sweeper.Sweeper.
type Sweep interface {
	SweepOnce(ctx context.Context) (sweeper.Report, error)
}

// SystemHandler handles operator maintenance endpoints.
type SystemHandler struct {
	sweep Sweep
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(sweep Sweep) *SystemHandler {
	return &SystemHandler{sweep: sweep}
}

// RunSweep handles POST /system/sweep. A sweep only inspects, removes
// orphans and prunes; it never builds, so running it inline is fine.
func (h *SystemHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	report, err := h.sweep.SweepOnce(r.Context())
	if err != nil {
		slog.Error("api: sweep failed", "error", err)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Sweep failed", requestID)
		return
	}

	response.Success(w, http.StatusOK, report, requestID)
}
