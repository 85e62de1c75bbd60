package api

import (
	"net/http"
	"strings"

	"github.com/okian/maap/internal/domain/types"
)

// BatchHandler serves bulk finalization.
type BatchHandler struct {
	deps BatchDependencies
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(deps BatchDependencies) *BatchHandler {
	return &BatchHandler{deps: deps}
}

// HandleSubmit handles POST /batches. Synchronous requests answer with the
// report; async ones with the queued job.
func (h *BatchHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_batch"

	var req types.BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if hdr := strings.TrimSpace(r.Header.Get("Idempotency-Key")); hdr != "" && req.RequestID == "" {
		req.RequestID = hdr
	}

	if !req.Async {
		report, err := h.deps.RunBatch(r.Context(), req)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	rec, dup, err := h.deps.SubmitBatch(r.Context(), req)
	if err != nil {
		writeFault(w, err)
		return
	}
	status := http.StatusAccepted
	if dup {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/batches/"+rec.ID)
	writeJSON(w, status, types.BatchAccepted{Job: rec, Duplicate: dup})
}

// HandleStatus handles GET /batches/{id}.
func (h *BatchHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.batch_status"

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	rec, err := h.deps.BatchStatus(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
