package repository

import (
	"errors"

	"github.com/okian/maap/internal/domain/fault"
)

// Sentinel kinds for repository errors.
var (
	ErrNotFound          = errors.New("record not found")
	ErrAlreadyProcessed  = errors.New("snapshot already processed")
	ErrDuplicateOpen     = errors.New("open check-in already exists")
	ErrUnsupportedDriver = errors.New("unsupported store driver")
)

// Classify maps a store error onto a fault kind. Errors that are already
// classified keep their kind; anything unrecognized is a persistence failure.
func Classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return fault.Wrap(op, fault.KindNotFound, err)
	case errors.Is(err, ErrAlreadyProcessed):
		return fault.Wrap(op, fault.KindAlreadyProcessed, err)
	case errors.Is(err, ErrDuplicateOpen):
		return fault.Wrap(op, fault.KindValidation, err)
	default:
		return fault.Wrap(op, fault.KindPersistence, err)
	}
}
