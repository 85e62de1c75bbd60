// Package fault classifies errors of the snapshot and finalization engine.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind names an error class. Kinds are stable strings used in batch reports and HTTP bodies.
type Kind string

// Error kinds.
const (
	KindConstruction        Kind = "construction_error"
	KindAlreadyProcessed    Kind = "already_processed"
	KindAttributeResolution Kind = "attribute_resolution_error"
	KindPersistence         Kind = "persistence_error"
	KindValidation          Kind = "validation_error"
	KindNotFound            Kind = "not_found"
	KindCanceled            Kind = "canceled"
	KindInternal            Kind = "internal_error"
)

// Sentinels matched by errors.Is for each kind.
var (
	ErrConstruction        = errors.New("snapshot construction failed")
	ErrAlreadyProcessed    = errors.New("snapshot already processed")
	ErrAttributeResolution = errors.New("display attribute missing")
	ErrPersistence         = errors.New("persistence failure")
	ErrValidation          = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrCanceled            = errors.New("canceled")
	ErrInternal            = errors.New("internal error")
)

var sentinels = map[Kind]error{ //nolint:gochecknoglobals // immutable lookup table
	KindConstruction:        ErrConstruction,
	KindAlreadyProcessed:    ErrAlreadyProcessed,
	KindAttributeResolution: ErrAttributeResolution,
	KindPersistence:         ErrPersistence,
	KindValidation:          ErrValidation,
	KindNotFound:            ErrNotFound,
	KindCanceled:            ErrCanceled,
	KindInternal:            ErrInternal,
}

// Error is a classified error raised by one operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New returns a classified error with a formatted message.
func New(op string, kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err stays nil, an already classified err keeps
// its kind and context errors are always canceled.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		kind = fe.Kind
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindCanceled
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies any error. Context errors are canceled and unclassified errors internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the failure may succeed when attempted again.
func Retryable(err error) bool {
	return KindOf(err) == KindPersistence
}
