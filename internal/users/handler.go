package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse-vms/gatehouse/internal/authz"
	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-vms/gatehouse/internal/shared"
)

// Handler exposes user directory endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	mw      authz.Middleware

	viewPolicy   authz.Requirement
	managePolicy authz.Requirement
}

// NewHandler builds a Handler with its policies resolved against the catalog.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware, catalog *authz.Catalog) (*Handler, error) {
	viewPolicy, err := authz.NewSinglePermission(catalog, "User.View")
	if err != nil {
		return nil, err
	}
	managePolicy, err := authz.NewSinglePermission(catalog, "User.Manage")
	if err != nil {
		return nil, err
	}
	return &Handler{
		logger:       logger,
		service:      service,
		mw:           mw,
		viewPolicy:   viewPolicy,
		managePolicy: managePolicy,
	}, nil
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(h.viewPolicy))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(h.managePolicy))
		r.Post("/", h.create)
		r.Put("/{id}/role", h.assignRole)
		r.Post("/{id}/lock", h.lock)
		r.Post("/{id}/unlock", h.unlock)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	roleID, _ := strconv.ParseInt(r.URL.Query().Get("role_id"), 10, 64)

	filters := ListFilters{
		Page:   page,
		Limit:  limit,
		RoleID: roleID,
		Search: r.URL.Query().Get("search"),
	}
	users, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"users":      users,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	user, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.RoleID < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "role_id is required")
		return
	}
	if err := h.service.AssignRole(r.Context(), id, req.RoleID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": id, "role_id": req.RoleID})
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, true)
}

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, false)
}

func (h *Handler) setLocked(w http.ResponseWriter, r *http.Request, locked bool) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	op := h.service.Unlock
	if locked {
		op = h.service.Lock
	}
	if err := op(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": id, "locked": locked})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, httpx.ErrNotFound), errors.Is(err, httpx.ErrDuplicate), errors.Is(err, httpx.ErrValidation):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("users handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
