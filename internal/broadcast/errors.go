package broadcast

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every rejected query. Rejected queries never
// reach the provider or the shared state.
var ErrValidation = errors.New("invalid query")

// UpstreamError reports a failed completion call. The failure has already
// been recorded in the session and broadcast when it is returned.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a failed push to one viewer. It stays inside the
// coordinator and is only logged.
type DeliveryError struct {
	ViewerID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push to viewer %s: %v", e.ViewerID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
