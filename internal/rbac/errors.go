package rbac

import (
	"errors"
	"fmt"

	"github.com/parcelhub/parcelhub/internal/platform/httpx"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrUserUnavailable indicates the user is missing, inactive or soft-deleted.
	ErrUserUnavailable = errors.New("rbac: user unavailable")
	// ErrDuplicate indicates a unique name or email is already taken.
	ErrDuplicate = fmt.Errorf("rbac: %w", httpx.ErrDuplicate)
	// ErrInvalidInput indicates a rejected mutation payload.
	ErrInvalidInput = fmt.Errorf("rbac: %w", httpx.ErrValidation)
)
