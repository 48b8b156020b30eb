// Package failure defines the error kinds shared by every reporting path of the
// service: HTTP responses, job failure reasons and progress-stream error events.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure. A Kind is itself an error so callers can write
// errors.Is(err, failure.KindNotFound).
type Kind string

const (
	KindNotFound             Kind = "NOT_FOUND"
	KindAlreadyExists        Kind = "ALREADY_EXISTS"
	KindInvalidWindow        Kind = "INVALID_WINDOW"
	KindInsufficientDuration Kind = "INSUFFICIENT_DURATION"
	KindVideoNotReady        Kind = "VIDEO_NOT_READY"
	KindAcquisitionFailed    Kind = "ACQUISITION_FAILED"
	KindValidationFailed     Kind = "VALIDATION_FAILED"
	KindCutFailed            Kind = "CUT_FAILED"
	KindJobNotFound          Kind = "JOB_NOT_FOUND"
	KindConfiguration        Kind = "CONFIGURATION_ERROR"
	KindInvalidTransition    Kind = "INVALID_TRANSITION"
	KindInvalidInput         Kind = "INVALID_INPUT"
	KindInternal             Kind = "INTERNAL"
)

func (k Kind) Error() string { return string(k) }

// Error carries a kind, a short human-readable message and an optional cause.
// Error() renders only the message; the cause is for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an Error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to cause. A nil cause yields a plain Error.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the outermost failure in err's chain, or
// KindInternal when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return KindInternal
}

// Message returns the text that may cross the external interface boundary.
// Errors without a failure kind collapse to a generic message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "internal error"
}

// Detail renders the full cause chain for logging.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var parts []string
	for err != nil {
		fe, ok := err.(*Error)
		if !ok {
			parts = append(parts, err.Error())
			break
		}
		parts = append(parts, fe.Message)
		err = fe.Err
	}
	return strings.Join(parts, ": ")
}

// HTTPStatus maps a kind onto the status code handlers reply with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound, KindJobNotFound:
		return http.StatusNotFound
	case KindAlreadyExists, KindVideoNotReady, KindInvalidTransition:
		return http.StatusConflict
	case KindInvalidWindow, KindInsufficientDuration, KindInvalidInput:
		return http.StatusBadRequest
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindAcquisitionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
