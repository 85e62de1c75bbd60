package api

import (
	"net/http"
	"time"

	"github.com/okian/maap/internal/domain/model"
)

// StatsProvider reports runtime counters of the service.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves GET /stats: the provider's counters plus the server
// uptime and the change type table.
type StatsHandler struct {
	provider  StatsProvider
	startedAt time.Time
}

// NewStatsHandler returns a handler reading counters from provider.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider, startedAt: time.Now()}
}

// HandleStats handles GET /stats.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]interface{})
	if h.provider != nil {
		for k, v := range h.provider.GetStats() {
			out[k] = v
		}
	}

	types := make(map[model.ChangeType]model.ChangeTypeInfo)
	for _, ct := range model.ChangeTypes() {
		info, _ := ct.Info()
		types[ct] = info
	}
	out["changeTypes"] = types
	out["uptimeSeconds"] = int64(time.Since(h.startedAt).Seconds())

	writeJSON(w, http.StatusOK, out)
}
