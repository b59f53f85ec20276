package etl

import (
	"context"
	"errors"
	"fmt"
)

// MalformedRecordError means a staged file could not be read or is missing required fields.
type MalformedRecordError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed record %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed record %s: %s", e.Path, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// TransformError means a record parsed but its derived values are invalid.
type TransformError struct {
	DepartureTS     int64
	StartLocationID string
	Reason          string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform trip %s@%d: %s", e.StartLocationID, e.DepartureTS, e.Reason)
}

// LoadError wraps a failed write. Fatal is set when the failure is about the
// connection rather than the row, so every following file would fail too.
type LoadError struct {
	Path  string
	Fatal bool
	Err   error
}

func (e *LoadError) Error() string {
	kind := "load"
	if e.Fatal {
		kind = "fatal load"
	}
	return fmt.Sprintf("%s error %s: %v", kind, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsFatal reports whether err should stop the whole batch.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var le *LoadError
	if errors.As(err, &le) {
		return le.Fatal
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
