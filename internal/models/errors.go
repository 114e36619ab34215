package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline and capture failures so callers can pick the right user action.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindPermissionDenied   ErrorKind = "PermissionDenied"
	KindBackendUnavailable ErrorKind = "BackendUnavailable"
	KindEmptyCapture       ErrorKind = "EmptyCapture"
	KindStorageUnavailable ErrorKind = "StorageUnavailable"
	KindUploadFailed       ErrorKind = "UploadFailed"
	KindUnsupportedFormat  ErrorKind = "UnsupportedFormat"
	KindServiceUnavailable ErrorKind = "ServiceUnavailable"
	KindBackendRejected    ErrorKind = "BackendRejected"
	KindEmptyAudio         ErrorKind = "EmptyAudio"
	KindNotFound           ErrorKind = "NotFound"
	KindCancelled          ErrorKind = "Cancelled"
)

// Error is a failure tagged with an ErrorKind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError creates a kind-tagged error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind carried by err, or KindNone.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// MessageOf returns the human-readable message carried by err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
