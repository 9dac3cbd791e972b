package roadmap

import (
	"errors"
	"fmt"
)

// PersistenceError reports a failed load or save of the roadmap file.
type PersistenceError struct {
	Op   string // "load", "save" or "export"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("roadmap %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError checks if an error is a PersistenceError and returns it.
func IsPersistenceError(err error) (*PersistenceError, bool) {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
