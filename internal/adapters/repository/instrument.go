package repository

import (
	"context"
	"time"

	"github.com/okian/maap/pkg/metrics"
)

type instrumented struct {
	Store
}

// Instrument records transaction outcomes and latency of s.
func Instrument(s Store) Store {
	if _, ok := s.(instrumented); ok {
		return s
	}
	return instrumented{Store: s}
}

func (s instrumented) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	start := time.Now()
	err := s.Store.RunInTransaction(ctx, fn)
	outcome := "commit"
	if err != nil {
		outcome = "rollback"
	}
	metrics.RecordRepositoryTransaction(s.Driver(), outcome, float64(time.Since(start).Microseconds())/1000.0)
	return err
}
