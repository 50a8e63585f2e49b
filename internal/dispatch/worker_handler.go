package dispatch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"convertd/internal/execution"
	"convertd/internal/httpx"
	"convertd/internal/logging"
)

const maxTriggerBytes = 1 << 20

// TriggerResponse acknowledges a trigger.
type TriggerResponse struct {
	ExecutionID string `json:"execution_id"`
	Accepted    bool   `json:"accepted"`
	Status      string `json:"status"`
}

// WorkerHandler is the execution-side HTTP endpoint.
type WorkerHandler struct {
	store  *execution.Store
	pool   *Pool
	logger *slog.Logger
}

// NewWorkerHandler returns the worker routes behind bearer auth:
//
//	POST /internal/executions/{id}/run
//	GET  /internal/health
func NewWorkerHandler(store *execution.Store, pool *Pool, token string, logger *slog.Logger) http.Handler {
	h := &WorkerHandler{
		store:  store,
		pool:   pool,
		logger: logging.NewComponentLogger(logger, "worker-api"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /internal/executions/{id}/run", h.handleRun)
	mux.HandleFunc("GET /internal/health", h.handleHealth)
	return httpx.BearerAuth(token, mux)
}

func (h *WorkerHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req TriggerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTriggerBytes))
	if err := dec.Decode(&req); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid_payload", "trigger payload is not valid JSON")
		return
	}
	if req.ExecutionID != id {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid_payload", "execution_id does not match the path")
		return
	}
	if err := req.Validate(); err != nil {
		httpx.WriteError(w, h.logger, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, execution.ErrNotFound) {
		httpx.WriteError(w, h.logger, http.StatusNotFound, "not_found", "execution not found")
		return
	}
	if err != nil {
		logging.ErrorWithContext(h.logger, "record lookup failed", "worker_lookup_failed",
			logging.String(logging.FieldExecutionID, id),
			logging.Error(err),
		)
		httpx.WriteError(w, h.logger, http.StatusServiceUnavailable, "unavailable", "record store unavailable")
		return
	}
	// Duplicate triggers are acknowledged without queueing another run; the
	// claim in Execute stays the authority for anything that slips past.
	if rec.Status.IsTerminal() || rec.LeaseLive(h.store.Now()) || !rec.AttemptsRemaining() {
		httpx.WriteJSON(w, h.logger, http.StatusOK, TriggerResponse{ExecutionID: id, Accepted: false, Status: string(rec.Status)})
		return
	}

	if err := h.pool.Submit(req); err != nil {
		if !errors.Is(err, ErrBusy) {
			httpx.WriteError(w, h.logger, http.StatusServiceUnavailable, "unavailable", "worker is shutting down")
			return
		}
		logging.WarnWithContext(h.logger, "trigger refused; worker busy", "worker_saturated",
			logging.String(logging.FieldExecutionID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "dispatcher retries; the record stays pending otherwise"),
		)
		httpx.WriteError(w, h.logger, http.StatusTooManyRequests, "busy", "worker is at capacity")
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusAccepted, TriggerResponse{ExecutionID: id, Accepted: true, Status: string(rec.Status)})
}

func (h *WorkerHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Stats(r.Context()); err != nil {
		httpx.WriteError(w, h.logger, http.StatusServiceUnavailable, "unavailable", "record store unavailable")
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}
