package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/parcelhub/parcelhub/internal/rbac"
	"github.com/parcelhub/parcelhub/internal/shared"
	"github.com/parcelhub/parcelhub/internal/token"
)

// SessionRecorder receives a record of every issued token.
type SessionRecorder interface {
	RecordSession(ctx context.Context, s Session) error
}

// Option customises a Service.
type Option func(*Service)

// WithDefaultRole names the role given to self-registered users.
func WithDefaultRole(name string) Option {
	return func(s *Service) {
		s.defaultRole = rbac.NormalizeName(name)
	}
}

// WithSessionRecorder enables session auditing.
func WithSessionRecorder(rec SessionRecorder) Option {
	return func(s *Service) {
		s.sessions = rec
	}
}

// WithHashCost overrides the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.hashCost = cost
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service wraps authentication business rules.
type Service struct {
	repo        Repository
	tokens      *token.Service
	sessions    SessionRecorder
	defaultRole string
	hashCost    int
	logger      *slog.Logger
	dummyHash   []byte
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *token.Service, opts ...Option) *Service {
	s := &Service{repo: repo, tokens: tokens, hashCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	// Compared against when the email is unknown so both paths pay for bcrypt.
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("parcelhub-unknown-account"), s.hashCost)
	return s
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (rbac.User, error) {
	user, err := s.repo.FindUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return rbac.User{}, shared.ErrInvalidCredentials
		}
		return rbac.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return rbac.User{}, shared.ErrInvalidCredentials
	}
	if !user.Usable() {
		return rbac.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a token.
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (Result, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Result{}, err
	}
	return s.issue(ctx, user, meta)
}

// Register creates an account with the default role and issues a token.
// A default role that is missing or unusable leaves the account without one.
func (s *Service) Register(ctx context.Context, email, password string, meta ClientMeta) (Result, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return Result{}, fmt.Errorf("%w: password longer than 72 bytes", rbac.ErrInvalidInput)
	}
	if err != nil {
		return Result{}, fmt.Errorf("auth: hash password: %w", err)
	}
	var roleID *int64
	if s.defaultRole != "" {
		role, err := s.repo.FindRoleByName(ctx, s.defaultRole)
		switch {
		case err == nil && role.Usable():
			roleID = &role.ID
		case err != nil && !errors.Is(err, rbac.ErrNotFound):
			return Result{}, err
		default:
			s.warn("default role unavailable", slog.String("role", s.defaultRole))
		}
	}
	user, err := s.repo.CreateUser(ctx, NormalizeEmail(email), string(hash), roleID)
	if err != nil {
		return Result{}, err
	}
	return s.issue(ctx, user, meta)
}

func (s *Service) issue(ctx context.Context, user rbac.User, meta ClientMeta) (Result, error) {
	roleName, err := s.roleName(ctx, user)
	if err != nil {
		return Result{}, err
	}
	var roles []string
	if roleName != "" {
		roles = []string{roleName}
	}
	issued, err := s.tokens.Issue(user.ID, user.Email, roles)
	if err != nil {
		return Result{}, err
	}
	if s.sessions != nil {
		err := s.sessions.RecordSession(ctx, Session{
			ID:        issued.ID,
			UserID:    user.ID,
			IssuedAt:  issued.IssuedAt,
			ExpiresAt: issued.ExpiresAt,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		})
		if err != nil {
			s.warn("record session", slog.Int64("user_id", user.ID), slog.Any("error", err))
		}
	}
	return Result{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		User:      UserView{ID: user.ID, Email: user.Email, Role: roleName},
	}, nil
}

// roleName returns the name of the user's role when it is usable. Role
// names in tokens are informational; the gate reloads the role anyway.
func (s *Service) roleName(ctx context.Context, user rbac.User) (string, error) {
	if !user.HasRole() {
		return "", nil
	}
	role, err := s.repo.FindRoleByID(ctx, *user.RoleID)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if !role.Usable() {
		return "", nil
	}
	return role.Name, nil
}

func (s *Service) warn(msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, attrs...)
	}
}
