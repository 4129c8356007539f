package token

import "errors"

var (
	// ErrMissingSecret indicates the service has no signing secret configured.
	ErrMissingSecret = errors.New("token: signing secret not configured")
	// ErrMalformed indicates the token could not be parsed.
	ErrMalformed = errors.New("token: malformed")
	// ErrInvalidSignature indicates the signature or algorithm check failed.
	ErrInvalidSignature = errors.New("token: invalid signature")
	// ErrExpired indicates the token is past its expiry.
	ErrExpired = errors.New("token: expired")
)
