// Package live holds the types shared by the real-time stream session layer:
// the error taxonomy surfaced to connections, the caller identity, and metrics.
package live

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the connection gateway.
type Kind int

const (
	// KindInternal is an unexpected failure. Detail is logged, never surfaced.
	KindInternal Kind = iota
	// KindValidation is a missing or malformed required field.
	KindValidation
	// KindNotFound is an id that does not resolve.
	KindNotFound
)

// String returns the metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Shared lookup failures. Compare with errors.Is.
var (
	ErrStreamNotFound   = NotFound("Stream not found")
	ErrStreamNotLive    = NotFound("Stream is not live")
	ErrUserNotFound     = NotFound("User not found")
	ErrStreamerNotFound = NotFound("Streamer not found")
	ErrMessageNotFound  = NotFound("Message not found")
)

// GenericInternalMessage is sent for internal failures that carry no public message.
const GenericInternalMessage = "Internal server error"

// Error is a classified failure. Message is safe to show to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a KindValidation error with the given public message.
func Validation(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

// NotFound returns a KindNotFound error with the given public message.
func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Internal wraps err as a KindInternal error. message must not contain internal detail.
func Internal(message string, err error) error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf reports the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the string to send back to the originating connection.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return GenericInternalMessage
}
