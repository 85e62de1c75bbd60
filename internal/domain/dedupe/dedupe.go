// Package dedupe tracks batch request ids so a retried submission maps to the job it started.
package dedupe

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/okian/maap/pkg/metrics"
)

const defaultMaxSize = 10000

// Deduper remembers which job a request id started.
type Deduper interface {
	// Claim records id -> jobID unless id is known. It returns the job id
	// recorded for id and whether id had been claimed before.
	Claim(ctx context.Context, id, jobID string) (string, bool)

	// Release forgets id so the request can be submitted again, e.g. after
	// the job could not be enqueued.
	Release(ctx context.Context, id string)

	Size() int64
}

// lruDeduper keeps the most recently claimed ids and evicts the oldest.
type lruDeduper struct {
	maxSize int
	cache   *lru.Cache[string, string]
}

// NewInMemoryDeduper creates a bounded in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &lruDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	// lru.New only fails for a non-positive size, which options never allow.
	d.cache, _ = lru.New[string, string](d.maxSize)
	return d
}

func (d *lruDeduper) Claim(_ context.Context, id, jobID string) (string, bool) {
	prev, ok, _ := d.cache.PeekOrAdd(id, jobID)
	if ok {
		metrics.RecordJobDuplicate()
		return prev, true
	}
	return jobID, false
}

func (d *lruDeduper) Release(_ context.Context, id string) {
	d.cache.Remove(id)
}

func (d *lruDeduper) Size() int64 {
	return int64(d.cache.Len())
}
