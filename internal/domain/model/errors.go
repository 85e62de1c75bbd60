package model

import "errors"

// Sentinel kinds for model validation errors.
var (
	ErrUnknownRating     = errors.New("unknown rating")
	ErrUnknownChangeType = errors.New("unknown change type")
	ErrInvalidFormParams = errors.New("form params must be a JSON object")
	ErrEnergyOutOfRange  = errors.New("anticipated energy percentage out of range")
	ErrNegativeLevel     = errors.New("milestone level must not be negative")
)
