package bulk

import "errors"

var (
	// ErrNoCreator is returned by RunForEmployees when no snapshot creator is configured.
	ErrNoCreator = errors.New("bulk: snapshot creator not configured")
	// ErrDuplicateEmployee rejects an employee batch naming one employee twice.
	ErrDuplicateEmployee = errors.New("bulk: employee named twice in batch")
)
