package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
)

// Handler exposes the administrative surface of the core: the permission
// catalog, resolved permission sets, and the grant/revoke endpoints.
type Handler struct {
	logger       *slog.Logger
	catalog      *Catalog
	resolver     *Resolver
	orchestrator *Orchestrator
	middleware   Middleware
	validator    *validator.Validate

	viewPolicy  Requirement
	adminPolicy Requirement
}

// NewHandler builds a Handler. Its policies are constructed against the
// catalog up front, so a misconfigured permission id fails at startup.
func NewHandler(logger *slog.Logger, catalog *Catalog, resolver *Resolver, orchestrator *Orchestrator, middleware Middleware, composites *CompositeRegistry) (*Handler, error) {
	viewPolicy, err := NewSinglePermission(catalog, "Permission.View")
	if err != nil {
		return nil, err
	}
	adminPolicy, err := composites.Lookup("permission-admin")
	if err != nil {
		return nil, err
	}
	return &Handler{
		logger:       logger,
		catalog:      catalog,
		resolver:     resolver,
		orchestrator: orchestrator,
		middleware:   middleware,
		validator:    validator.New(),
		viewPolicy:   viewPolicy,
		adminPolicy:  adminPolicy,
	}, nil
}

// MountRoutes registers the authorization admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.middleware.Require(h.viewPolicy))
		r.Get("/catalog", h.listCatalog)
		r.Get("/users/{id}/permissions", h.userPermissions)
		r.Get("/roles/{id}/permissions", h.rolePermissions)
		r.Post("/check", h.check)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.middleware.Require(h.adminPolicy))
		r.Post("/roles/{id}/permissions/grant", h.grant)
		r.Post("/roles/{id}/permissions/revoke", h.revoke)
	})
}

type permissionView struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Risk        int    `json:"risk"`
	Active      bool   `json:"active"`
	System      bool   `json:"system"`
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	grouped := make(map[string][]permissionView)
	for _, category := range h.catalog.Categories() {
		for _, p := range h.catalog.ListByCategory(category) {
			grouped[category] = append(grouped[category], toPermissionView(p))
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": grouped})
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	groups, err := h.resolver.ResolveCategoryGroups(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	elevated, err := h.resolver.HasElevatedPrivileges(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make(map[string][]permissionView, len(groups))
	for category, perms := range groups {
		for _, p := range perms {
			out[category] = append(out[category], toPermissionView(p))
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"categories": out,
		"elevated":   elevated,
	})
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}
	grants, err := h.orchestrator.repo.ListRolePermissions(r.Context(), roleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": roleID, "grants": grants})
}

type checkRequest struct {
	UserID     int64  `json:"user_id" validate:"required"`
	Permission string `json:"permission" validate:"required"`
}

// check answers "would this user pass this permission" without touching the
// guarded resource. Useful for admin tooling before a role change.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user_id and permission are required")
		return
	}
	requirement, err := NewSinglePermission(h.catalog, req.Permission)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Permission", err.Error())
		return
	}
	decision := h.middleware.Evaluator.Evaluate(r.Context(), Actor{UserID: req.UserID}, requirement, RequestContext{})
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":    req.UserID,
		"permission": req.Permission,
		"allowed":    decision.Allowed,
	})
}

type mutateRequest struct {
	PermissionIDs []string `json:"permission_ids" validate:"required,min=1,dive,required"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.orchestrator.GrantPermissions)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.orchestrator.RevokePermissions)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, roleID int64, permissionIDs []string, actorID int64) (MutationResult, error)) {
	roleID, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return
	}
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	var req mutateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission_ids must be a non-empty list")
		return
	}
	result, err := op(r.Context(), roleID, req.PermissionIDs, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role_id": roleID,
		"count":   result.Count,
		"state":   result.State,
	})
}

func toPermissionView(p Permission) permissionView {
	return permissionView{
		ID:          p.ID,
		Category:    p.Category,
		Description: p.Description,
		Risk:        int(p.Risk),
		Active:      p.Active,
		System:      p.System,
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrUserNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrInvalidPermission):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Permission", err.Error())
	default:
		h.logger.Error("authz handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
