// Package label resolves display labels of records shown in finalization output.
package label

import (
	"strings"

	"github.com/okian/maap/internal/domain/fault"
)

// Labeled is implemented by records that carry a human readable label.
type Labeled interface {
	DisplayLabel() string
}

// Resolve returns the display label of l. A missing or blank label is an
// attribute resolution error naming what, e.g. "ability 12".
func Resolve(op, what string, l Labeled) (string, error) {
	if l == nil {
		return "", fault.New(op, fault.KindAttributeResolution, "%s: record missing", what)
	}
	v := strings.TrimSpace(l.DisplayLabel())
	if v == "" {
		return "", fault.New(op, fault.KindAttributeResolution, "%s: display label is blank", what)
	}
	return v, nil
}
