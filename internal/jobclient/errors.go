package jobclient

import (
	"errors"
	"fmt"
)

// ErrNotFound means the job service answered but does not know the scan id.
var ErrNotFound = errors.New("scan not found")

// ErrIncompatibleBackend is returned by CheckCompatibility when the job
// service reports a version below the configured minimum.
var ErrIncompatibleBackend = errors.New("incompatible job service version")

// RequestError covers transport failures, non-2xx responses and bodies that
// cannot be decoded.
type RequestError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// BackendRejection is a well-formed 2xx response that reports success=false.
type BackendRejection struct {
	Op      string
	Message string
}

func (e *BackendRejection) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: rejected by job service", e.Op)
	}
	return fmt.Sprintf("%s: rejected by job service: %s", e.Op, e.Message)
}

func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

func IsBackendRejection(err error) bool {
	var br *BackendRejection
	return errors.As(err, &br)
}
