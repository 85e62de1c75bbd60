package service

import "errors"

// Sentinel errors returned by the service.
var (
	ErrNoStore    = errors.New("service: no repository store configured")
	ErrNotStarted = errors.New("service: not started")
	ErrStopped    = errors.New("service: stopped")
	ErrJobUnknown = errors.New("service: batch job not found")
)
