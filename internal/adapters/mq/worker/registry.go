package worker

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/okian/maap/internal/domain/model"
)

const defaultRegistrySize = 4096

// Registry tracks the status of the most recent batch jobs.
type Registry struct {
	mu   sync.Mutex
	jobs *lru.Cache[string, model.JobRecord]
}

// NewRegistry keeps up to size jobs, evicting the least recently touched.
func NewRegistry(size int) *Registry {
	if size <= 0 {
		size = defaultRegistrySize
	}
	jobs, _ := lru.New[string, model.JobRecord](size)
	return &Registry{jobs: jobs}
}

// Submit records j as queued.
func (r *Registry) Submit(j model.BatchJob) model.JobRecord { //nolint:gocritic // hugeParam: jobs are values
	rec := model.JobRecord{
		ID:          j.ID,
		RequestID:   j.RequestID,
		Status:      model.JobQueued,
		Size:        j.Size(),
		SubmittedAt: j.SubmittedAt,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs.Add(j.ID, rec)
	return rec
}

// Forget drops a job that never made it onto the queue.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs.Remove(id)
}

// Get returns the job record.
func (r *Registry) Get(id string) (model.JobRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs.Get(id)
}

// Counts returns the number of tracked jobs per status.
func (r *Registry) Counts() map[model.JobStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[model.JobStatus]int{}
	for _, rec := range r.jobs.Values() {
		out[rec.Status]++
	}
	return out
}

func (r *Registry) update(id string, fn func(*model.JobRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs.Peek(id)
	if !ok {
		rec = model.JobRecord{ID: id}
	}
	fn(&rec)
	r.jobs.Add(id, rec)
}

func (r *Registry) start(id string, at time.Time) {
	r.update(id, func(rec *model.JobRecord) {
		rec.Status = model.JobRunning
		rec.StartedAt = &at
	})
}

func (r *Registry) complete(id string, report model.Report, key string, at time.Time) { //nolint:gocritic // hugeParam: report is stored by value
	r.update(id, func(rec *model.JobRecord) {
		rec.Status = model.JobCompleted
		rec.Report = &report
		rec.ArchiveKey = key
		rec.FinishedAt = &at
	})
}

func (r *Registry) fail(id string, err error, at time.Time) {
	r.update(id, func(rec *model.JobRecord) {
		rec.Status = model.JobFailed
		rec.Error = err.Error()
		rec.FinishedAt = &at
	})
}
