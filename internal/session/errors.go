package session

import (
	"errors"
	"fmt"
)

// #region validation-error

// ValidationError reports missing, malformed or mismatched-shape input.
// It is returned before any metric is computed.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // optional sentinel, such as ErrDuplicateSession
}

// ErrDuplicateSession is wrapped by the ValidationError returned for a
// session id that was already ingested.
var ErrDuplicateSession = errors.New("session_id already exists")

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// #endregion validation-error

// #region computation-error

// ComputationError reports degenerate but well-formed input, such as a
// zero-area grid.
type ComputationError struct {
	Reason string
}

func (e *ComputationError) Error() string {
	return "computation: " + e.Reason
}

// #endregion computation-error

// #region external-service-error

// ExternalServiceError wraps a failure of the similarity store or the
// narrative provider. Callers recover locally and never surface it as an
// ingest failure.
type ExternalServiceError struct {
	Service string // "similarity_index" | "narrative_provider"
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// #endregion external-service-error

// #region stream-protocol-error

// StreamProtocolError marks one malformed narrative stream line. The line is
// skipped and the stream continues.
type StreamProtocolError struct {
	Line string
	Err  error
}

func (e *StreamProtocolError) Error() string {
	return fmt.Sprintf("stream protocol: malformed line %.80q: %v", e.Line, e.Err)
}

func (e *StreamProtocolError) Unwrap() error {
	return e.Err
}

// #endregion stream-protocol-error

// #region classification

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsComputation reports whether err is (or wraps) a ComputationError.
func IsComputation(err error) bool {
	var c *ComputationError
	return errors.As(err, &c)
}

// IsExternal reports whether err is (or wraps) an ExternalServiceError.
func IsExternal(err error) bool {
	var x *ExternalServiceError
	return errors.As(err, &x)
}

// #endregion classification
