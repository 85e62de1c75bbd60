package api

import (
	"net/http"
	"strconv"

	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/internal/domain/snapshot"
	"github.com/okian/maap/internal/domain/types"
)

const maxListLimit = 500

// SnapshotHandler serves snapshot capture, reads and single finalization.
type SnapshotHandler struct {
	deps SnapshotDependencies
}

// NewSnapshotHandler creates a new snapshot handler.
func NewSnapshotHandler(deps SnapshotDependencies) *SnapshotHandler {
	return &SnapshotHandler{deps: deps}
}

// HandleCreate handles POST /snapshots. form_params is stored exactly as sent.
func (h *SnapshotHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_snapshot"

	var req snapshot.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	snap, err := h.deps.CreateSnapshot(r.Context(), req)
	if err != nil {
		writeFault(w, err)
		return
	}
	w.Header().Set("Location", "/snapshots/"+strconv.FormatInt(snap.ID, 10))
	writeJSON(w, http.StatusCreated, snap)
}

// HandleList handles GET /snapshots?employee_id=&processed=&limit=.
func (h *SnapshotHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_snapshots"

	q := r.URL.Query()
	var filter model.SnapshotFilter
	if v := q.Get("employee_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		filter.EmployeeID = id
	}
	if v := q.Get("processed"); v != "" {
		processed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		filter.Processed = &processed
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		if limit > maxListLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
			return
		}
		filter.Limit = limit
	}

	list, err := h.deps.ListSnapshots(r.Context(), filter)
	if err != nil {
		writeFault(w, err)
		return
	}
	if list == nil {
		list = []model.Snapshot{}
	}
	writeJSON(w, http.StatusOK, types.SnapshotList{Snapshots: list, Count: len(list)})
}

// HandleGet handles GET /snapshots/{id}.
func (h *SnapshotHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(w, r, "api.get_snapshot")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleMaapData handles GET /snapshots/{id}/maap_data.
func (h *SnapshotHandler) HandleMaapData(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(w, r, "api.get_maap_data")
	if !ok {
		return
	}
	body, err := snap.MaapData.Canonical()
	if err != nil {
		writeFault(w, err)
		return
	}
	writeRaw(w, http.StatusOK, body)
}

// HandleFormParams handles GET /snapshots/{id}/form_params. The stored bytes are returned untouched.
func (h *SnapshotHandler) HandleFormParams(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(w, r, "api.get_form_params")
	if !ok {
		return
	}
	writeRaw(w, http.StatusOK, snap.FormParams)
}

// HandleChanges handles GET /snapshots/{id}/changes.
func (h *SnapshotHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "api.preview_changes")
	if !ok {
		return
	}
	req, err := h.deps.PreviewChanges(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// HandleFinalize handles POST /snapshots/{id}/finalize.
func (h *SnapshotHandler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "api.finalize")
	if !ok {
		return
	}
	res, err := h.deps.Finalize(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SnapshotHandler) load(w http.ResponseWriter, r *http.Request, op string) (model.Snapshot, bool) {
	id, ok := pathID(w, r, op)
	if !ok {
		return model.Snapshot{}, false
	}
	snap, err := h.deps.GetSnapshot(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return model.Snapshot{}, false
	}
	return snap, true
}

func pathID(w http.ResponseWriter, r *http.Request, op string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return 0, false
	}
	return id, true
}
