package engine

import "fmt"

type ServiceErrorKind string

const (
	ServiceErrorInvalid     ServiceErrorKind = "invalid"
	ServiceErrorNotFound    ServiceErrorKind = "not_found"
	ServiceErrorUnavailable ServiceErrorKind = "unavailable"
	ServiceErrorConflict    ServiceErrorKind = "conflict"
)

// Stable wire codes surfaced to observers.
const (
	CodeEmptyMessage         = "empty_message"
	CodeInvalidSession       = "invalid_session"
	CodeResumeFailed         = "resume_failed"
	CodeBranchFailed         = "branch_failed"
	CodeUnregisteredObserver = "unregistered_observer"
	CodeMalformedPayload     = "malformed_payload"
	CodeUnknownCommand       = "unknown_command"
)

type ServiceError struct {
	Kind    ServiceErrorKind
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func invalidError(code, message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorInvalid, Code: code, Message: message, Err: err}
}

func notFoundError(code, message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorNotFound, Code: code, Message: message, Err: err}
}

func unavailableError(code, message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorUnavailable, Code: code, Message: message, Err: err}
}

// ErrorCode extracts the stable wire code of an error, if it carries one.
func ErrorCode(err error) string {
	if svcErr, ok := err.(*ServiceError); ok && svcErr != nil {
		return svcErr.Code
	}
	return ""
}
