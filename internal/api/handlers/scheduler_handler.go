package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/isdelr/safeback/internal/monitoring"
)

// SchedulerRunner runs one scheduler pass on demand.
type SchedulerRunner interface {
	RunOnce(ctx context.Context, force bool) ([]monitoring.RunResult, error)
}

// SchedulerHandler lets external cron or deploy tooling trigger the scheduler.
type SchedulerHandler struct {
	scheduler SchedulerRunner
}

// NewSchedulerHandler creates a new SchedulerHandler.
func NewSchedulerHandler(scheduler SchedulerRunner) *SchedulerHandler {
	return &SchedulerHandler{scheduler: scheduler}
}

// Run handles the request to run the scheduler once.
func (h *SchedulerHandler) Run(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	results, err := h.scheduler.RunOnce(r.Context(), force)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
