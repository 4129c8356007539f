package authz

import (
	"errors"
	"net/http"
)

// Kind is the machine-stable reason a request was rejected.
type Kind string

// Rejection kinds.
const (
	KindMissingToken             Kind = "missing_token"
	KindMalformedToken           Kind = "malformed_token"
	KindInvalidSignature         Kind = "invalid_signature"
	KindExpiredToken             Kind = "expired_token"
	KindUserInvalid              Kind = "user_invalid"
	KindInsufficientRole         Kind = "insufficient_role"
	KindInsufficientPermission   Kind = "insufficient_permission"
	KindAuthorizationUnavailable Kind = "authorization_unavailable"
)

// Status maps the kind onto an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindInsufficientRole, KindInsufficientPermission:
		return http.StatusForbidden
	case KindAuthorizationUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// Retryable reports whether a caller may retry the request unchanged.
func (k Kind) Retryable() bool {
	return k == KindAuthorizationUnavailable
}

// Message is the client-facing text. Detail stays in the logs.
func (k Kind) Message() string {
	if k == KindAuthorizationUnavailable {
		return "authorization is temporarily unavailable, retry later"
	}
	return "access denied"
}

// Error is a gate rejection. Err holds the internal cause and is never sent
// to clients. UserID is set once the token subject is known.
type Error struct {
	Kind   Kind
	UserID int64
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "authz: " + string(e.Kind)
	}
	return "authz: " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can compare against the
// exported sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrMissingToken             = &Error{Kind: KindMissingToken}
	ErrMalformedToken           = &Error{Kind: KindMalformedToken}
	ErrInvalidSignature         = &Error{Kind: KindInvalidSignature}
	ErrExpiredToken             = &Error{Kind: KindExpiredToken}
	ErrUserInvalid              = &Error{Kind: KindUserInvalid}
	ErrInsufficientRole         = &Error{Kind: KindInsufficientRole}
	ErrInsufficientPermission   = &Error{Kind: KindInsufficientPermission}
	ErrAuthorizationUnavailable = &Error{Kind: KindAuthorizationUnavailable}
)

func reject(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// KindOf extracts the rejection kind. Errors that did not come from the gate
// are treated as infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindAuthorizationUnavailable
}
