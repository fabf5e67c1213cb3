package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/accessctl/internal/platform/httpx"
	"github.com/odyssey-erp/accessctl/internal/rbac"
)

// Permissions guarding the admin endpoints.
const (
	PermissionViewAll   = "rbac:view:all"
	PermissionRepairAll = "rbac:repair:all"
)

// PermissionLister lists the effective permissions of a user.
type PermissionLister interface {
	EffectivePermissions(ctx context.Context, userID string) ([]string, error)
}

// Repairer runs a consistency repair.
type Repairer interface {
	Repair(ctx context.Context, opts rbac.RepairOptions) (rbac.Report, error)
}

// Handler exposes authorization checks and RBAC administration over HTTP.
type Handler struct {
	logger      *slog.Logger
	authorizer  rbac.Authorizer
	permissions PermissionLister
	repairer    Repairer
	guard       rbac.Middleware
	validator   *validator.Validate
	checkPerm   string
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, authorizer rbac.Authorizer, permissions PermissionLister, repairer Repairer, guard rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		logger:      logger,
		authorizer:  authorizer,
		permissions: permissions,
		repairer:    repairer,
		guard:       guard,
		validator:   validator.New(),
	}
}

// RequireCheckPermission makes the check endpoint demand that the caller holds
// perm. With an empty perm the endpoint is open to whoever reaches the
// service, which must then only be the trusted gateway.
func (h *Handler) RequireCheckPermission(perm string) *Handler {
	h.checkPerm = perm
	return h
}

// MountRoutes registers the /v1 routes. The admin middlewares wrap only the
// administrative endpoints; the check endpoint sits on the per-request path.
func (h *Handler) MountRoutes(r chi.Router, admin ...func(http.Handler) http.Handler) {
	r.Route("/v1", func(r chi.Router) {
		if h.checkPerm != "" {
			r.With(h.guard.RequireAll(h.checkPerm)).Get("/authz/check", h.check)
		} else {
			r.Get("/authz/check", h.check)
		}
		r.Group(func(r chi.Router) {
			r.Use(admin...)
			r.With(h.guard.RequireAll(PermissionViewAll)).Get("/authz/users/{userID}/permissions", h.listPermissions)
			r.With(h.guard.RequireAll(PermissionRepairAll)).Post("/rbac/repair", h.repair)
		})
	})
}

type checkQuery struct {
	UserID     string `validate:"required"`
	Permission string `validate:"required,max=255"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	q := checkQuery{
		UserID:     r.URL.Query().Get("user_id"),
		Permission: r.URL.Query().Get("permission"),
	}
	if err := h.validator.Struct(q); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: user_id and permission are required", httpx.ErrValidation))
		return
	}
	allowed := h.authorizer.HasPermission(r.Context(), q.UserID, q.Permission)
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: allowed})
}

type permissionsResponse struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := rbac.ParseUserID(userID); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	perms, err := h.permissions.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list effective permissions", slog.String("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{UserID: userID, Permissions: perms})
}

func (h *Handler) repair(w http.ResponseWriter, r *http.Request) {
	var opts rbac.RepairOptions
	if err := httpx.DecodeJSON(r, &opts); err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.repairer.Repair(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "rbac repair request", slog.Any("error", err))
		httpx.RespondError(w, classify(err))
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func classify(err error) error {
	switch {
	case errors.Is(err, rbac.ErrInvalidOptions):
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, rbac.ErrRepairInProgress), errors.Is(err, rbac.ErrRequiredRoleMissing):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	default:
		return err
	}
}
