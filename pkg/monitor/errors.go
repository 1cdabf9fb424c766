package monitor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPath     = errors.New("path must be a non-empty absolute path")
	ErrNotAttached     = errors.New("path is not attached")
	ErrClosed          = errors.New("monitor is closed")
	ErrTeardownTimeout = errors.New("observation did not acknowledge stop")
)

// ObserveError reports a native subscription that could not be established.
// The registry keeps the change that triggered it.
type ObserveError struct {
	Op    string
	Paths []string
	Err   error
}

func (e *ObserveError) Error() string {
	return fmt.Sprintf("%s: observe [%s]: %v", e.Op, strings.Join(e.Paths, ", "), e.Err)
}

func (e *ObserveError) Unwrap() error { return e.Err }
