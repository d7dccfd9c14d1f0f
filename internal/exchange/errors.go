package exchange

import (
	"errors"
	"fmt"
)

// ErrTransport matches every *TransportError via errors.Is.
var ErrTransport = errors.New("exchange service error")

// TransportError reports a failed or rejected Exchange Service call.
type TransportError struct {
	Op         RouteKey
	StatusCode int // 0 when no response was received
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("exchange %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("exchange %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
