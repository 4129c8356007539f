// Package token issues and verifies the HS256 session tokens presented as
// bearer credentials. It performs no I/O: verification depends only on the
// token, the clock and the configured secret.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the lifetime applied when none is configured.
const DefaultTTL = 24 * time.Hour

// Identity is the payload carried by a session token.
type Identity struct {
	UserID int64
	Email  string
	Roles  []string
}

// Issued describes a freshly signed token.
type Issued struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Claims is the JWT body.
type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIssuer sets the iss claim written into issued tokens.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		s.issuer = strings.TrimSpace(issuer)
	}
}

// Service signs and verifies session tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewService constructs a Service. A non-positive ttl falls back to DefaultTTL.
func NewService(secret string, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Service{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL exposes the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for the subject.
func (s *Service) Issue(subjectID int64, email string, roles []string) (Issued, error) {
	if len(s.secret) == 0 {
		return Issued{}, ErrMissingSecret
	}
	now := s.now().UTC().Truncate(jwt.TimePrecision)
	expiresAt := now.Add(s.ttl)
	id := uuid.NewString()
	claims := Claims{
		Email: email,
		Roles: append([]string{}, roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(subjectID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("token: sign: %w", err)
	}
	return Issued{Token: signed, ID: id, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// Verify checks signature and expiry and returns the embedded identity.
func (s *Service) Verify(raw string) (Identity, error) {
	if len(s.secret) == 0 {
		return Identity{}, ErrMissingSecret
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrMalformed
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Identity{}, classify(err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, ErrMalformed
	}
	return Identity{UserID: userID, Email: claims.Email, Roles: claims.Roles}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
