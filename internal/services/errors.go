package services

import "errors"

// Kind is the stable, machine-checkable category of a service failure.
type Kind string

const (
	KindValidationFailed   Kind = "validation_failed"
	KindConflict           Kind = "conflict"
	KindNotFound           Kind = "not_found"
	KindInvalidToken       Kind = "invalid_token"
	KindTokenExpired       Kind = "token_expired"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindEmailNotVerified   Kind = "email_not_verified"
	KindStoreUnavailable   Kind = "store_unavailable"
	KindNotificationFailed Kind = "notification_failed"
)

// Error is the only error type returned by AccountService. Message is safe to
// show to clients; Err keeps the underlying cause for logs and errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, &services.Error{Kind: services.KindConflict}).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind && other.Message == "" && other.Err == nil
}

// KindOf extracts the Kind of err, or "" when err is not a service error.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ""
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

const (
	msgInvalidCredentials = "invalid credentials"
	msgStoreUnavailable   = "service temporarily unavailable"
)
