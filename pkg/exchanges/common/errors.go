package common

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported means the adapter cannot express the request at all.
	ErrNotSupported = errors.New("exchange: operation not supported")
	// ErrRejected means the venue refused the request (bad params, filters, balance).
	ErrRejected = errors.New("exchange: request rejected")
	// ErrTransient covers timeouts, 5xx and rate limiting; the call may be retried.
	ErrTransient = errors.New("exchange: transient failure")
	// ErrUnknownOrder means the venue has no open order with that id; it
	// already filled, expired or was cancelled.
	ErrUnknownOrder = errors.New("exchange: unknown order")
	// ErrAuth means credentials are missing or invalid.
	ErrAuth = errors.New("exchange: authentication failed")
)

// APIError carries the venue's own code and message alongside a sentinel kind.
type APIError struct {
	Kind    error
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v (status=%d code=%d): %s", e.Kind, e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Kind }

// ClassifyStatus maps an HTTP status to an error kind.
func ClassifyStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 429 || status == 418 || status >= 500:
		return ErrTransient
	default:
		return ErrRejected
	}
}
