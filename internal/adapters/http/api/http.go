// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/maap/internal/adapters/mq/queue"
	"github.com/okian/maap/internal/domain/changes"
	"github.com/okian/maap/internal/domain/fault"
	"github.com/okian/maap/internal/domain/finalize"
	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/internal/domain/snapshot"
	"github.com/okian/maap/internal/domain/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SnapshotDependencies
	BatchDependencies
}

// SnapshotDependencies capture, read and finalize snapshots.
type SnapshotDependencies interface {
	CreateSnapshot(ctx context.Context, req snapshot.CreateRequest) (model.Snapshot, error)
	GetSnapshot(ctx context.Context, id int64) (model.Snapshot, error)
	ListSnapshots(ctx context.Context, filter model.SnapshotFilter) ([]model.Snapshot, error)
	PreviewChanges(ctx context.Context, id int64) (changes.ChangeRequest, error)
	Finalize(ctx context.Context, id int64) (finalize.Result, error)
}

// BatchDependencies run and track bulk finalization.
type BatchDependencies interface {
	RunBatch(ctx context.Context, req types.BatchRequest) (model.Report, error)
	SubmitBatch(ctx context.Context, req types.BatchRequest) (model.JobRecord, bool, error)
	BatchStatus(ctx context.Context, id string) (model.JobRecord, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	snapshotHandler *SnapshotHandler
	batchHandler    *BatchHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		snapshotHandler: NewSnapshotHandler(deps),
		batchHandler:    NewBatchHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /snapshots", MetricsMiddleware(s.snapshotHandler.HandleCreate, "snapshots_create"))
	mux.HandleFunc("GET /snapshots", MetricsMiddleware(s.snapshotHandler.HandleList, "snapshots_list"))
	mux.HandleFunc("GET /snapshots/{id}", MetricsMiddleware(s.snapshotHandler.HandleGet, "snapshots_get"))
	mux.HandleFunc("GET /snapshots/{id}/maap_data", MetricsMiddleware(s.snapshotHandler.HandleMaapData, "snapshots_maap_data"))
	mux.HandleFunc("GET /snapshots/{id}/form_params", MetricsMiddleware(s.snapshotHandler.HandleFormParams, "snapshots_form_params"))
	mux.HandleFunc("GET /snapshots/{id}/changes", MetricsMiddleware(s.snapshotHandler.HandleChanges, "snapshots_changes"))
	mux.HandleFunc("POST /snapshots/{id}/finalize", MetricsMiddleware(s.snapshotHandler.HandleFinalize, "snapshots_finalize"))

	mux.HandleFunc("POST /batches", MetricsMiddleware(s.batchHandler.HandleSubmit, "batches_submit"))
	mux.HandleFunc("GET /batches/{id}", MetricsMiddleware(s.batchHandler.HandleStatus, "batches_status"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFault answers with the status of the error's kind; the kind is the body code.
func writeFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
		return
	case errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
		return
	}
	kind := fault.KindOf(err)
	writeError(w, statusFor(kind), string(kind), err)
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindAlreadyProcessed:
		return http.StatusConflict
	case fault.KindConstruction, fault.KindAttributeResolution:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
