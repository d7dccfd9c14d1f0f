package relay

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRecordNotFound         = errors.New("exchange record not found")
	ErrRecordExists           = errors.New("exchange record already exists")
	ErrBlobNotFound           = errors.New("blob not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// StateError reports a refused state transition.
type StateError struct {
	From State
	To   State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidStateTransition }

// requestError carries the HTTP status a handler wants to answer with.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) error {
	return &requestError{status: http.StatusConflict, msg: fmt.Sprintf(format, args...)}
}

func tooLarge(format string, args ...any) error {
	return &requestError{status: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf(format, args...)}
}

// statusOf maps a handler error to an HTTP status and a client-safe message.
func statusOf(err error) (int, string) {
	var re *requestError
	switch {
	case errors.As(err, &re):
		return re.status, re.msg
	case errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound, ErrRecordNotFound.Error()
	case errors.Is(err, ErrInvalidStateTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ErrBlobNotFound):
		return http.StatusNotFound, ErrBlobNotFound.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
