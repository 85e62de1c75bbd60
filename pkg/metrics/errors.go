package metrics

import (
	"errors"
)

// ErrNilManager is returned when a nil manager is installed as the default.
var ErrNilManager = errors.New("metrics manager is nil")
