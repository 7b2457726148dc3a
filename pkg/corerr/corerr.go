// Package corerr defines the error taxonomy shared by the binary manager,
// model manager, diffusion server manager and resource orchestrator. Codes
// are a contract: callers (HTTP clients, CLIs) key behavior off Code, not
// off Go type identity.
package corerr

import "fmt"

// Code is one of the fixed taxonomy values. New codes are not expected to be
// added casually — each one is load-bearing for some consumer.
type Code string

const (
	ModelNotFound         Code = "MODEL_NOT_FOUND"
	DownloadFailed        Code = "DOWNLOAD_FAILED"
	InsufficientResources Code = "INSUFFICIENT_RESOURCES"
	ServerError           Code = "SERVER_ERROR"
	ServerBusy            Code = "SERVER_BUSY"
	ServerNotRunning      Code = "SERVER_NOT_RUNNING"
	PortInUse             Code = "PORT_IN_USE"
	FileSystemError       Code = "FILE_SYSTEM_ERROR"
	ChecksumError         Code = "CHECKSUM_ERROR"
	BinaryError           Code = "BINARY_ERROR"
	BackendError          Code = "BACKEND_ERROR"
	IOError               Code = "IO_ERROR"
	InvalidRequest        Code = "INVALID_REQUEST"
	UnknownError          Code = "UNKNOWN_ERROR"
)

// Error is the structured error carried across the core's boundaries and
// projected by the HTTP surface into {error:{message, code, suggestion?}}.
type Error struct {
	Code       Code
	Message    string
	Details    string
	Suggestion string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that wraps cause, formatting message as its text.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithSuggestion returns a copy of e with Suggestion set, for the common
// case of attaching operator-facing remediation text at the call site.
func (e *Error) WithSuggestion(s string) *Error {
	cp := *e
	cp.Suggestion = s
	return &cp
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(d string) *Error {
	cp := *e
	cp.Details = d
	return &cp
}

// CodeOf extracts the taxonomy code from err, defaulting to UnknownError for
// errors that never passed through this package.
func CodeOf(err error) Code {
	var ce *Error
	for err != nil {
		if c, ok := err.(*Error); ok {
			ce = c
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ce == nil {
		return UnknownError
	}
	return ce.Code
}
