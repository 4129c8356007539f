package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/parcelhub/parcelhub/internal/platform/httpx"
	"github.com/parcelhub/parcelhub/internal/shared"
)

// Guard is the route protection the handler needs. It is satisfied by the
// authorization middleware.
type Guard interface {
	RequirePermission(perm string) func(http.Handler) http.Handler
}

// PermissionsHandler manages permission listing and registration.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   *Service
	guard     Guard
	validator *validator.Validate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, guard Guard) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, guard: guard, validator: httpx.NewValidator()}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.With(h.guard.RequirePermission(shared.PermPermissionsView)).Get("/", h.listPermissions)
	r.With(h.guard.RequirePermission(shared.PermPermissionsEdit)).Post("/", h.createPermission)
}

type createPermissionRequest struct {
	Resource    string `json:"resource" validate:"required,max=64,excludes=:"`
	Action      string `json:"action" validate:"required,max=64,excludes=:"`
	Description string `json:"description" validate:"max=255"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *PermissionsHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	var actor int64
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		actor = p.UserID
	}
	perm, err := h.service.CreatePermission(r.Context(), actor, req.Resource, req.Action, req.Description)
	if err != nil {
		h.logger.Warn("create permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}
