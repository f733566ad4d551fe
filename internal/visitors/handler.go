package visitors

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse-vms/gatehouse/internal/authz"
	"github.com/gatehouse-vms/gatehouse/internal/platform/httpx"
)

// VisitingHours configures the window the check-in policy enforces.
type VisitingHours struct {
	Start    string
	End      string
	Weekdays []time.Weekday
}

// Handler exposes visitor endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	mw      authz.Middleware

	listPolicy     authz.Requirement
	readPolicy     authz.Requirement
	createPolicy   authz.Requirement
	updatePolicy   authz.Requirement
	deletePolicy   authz.Requirement
	checkInPolicy  authz.Requirement
	overridePolicy authz.Requirement
	checkOutPolicy authz.Requirement
}

// NewHandler builds a Handler. Check-in is gated on both the processing
// permission and the visiting-hours window; the override permission bypasses
// the window, not the permission check.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware, catalog *authz.Catalog, hours VisitingHours) (*Handler, error) {
	listPolicy, err := authz.NewAnyOf(catalog, "Visitor.ReadOwn", "Visitor.ReadAll")
	if err != nil {
		return nil, err
	}
	readPolicy, err := authz.NewResourceOwnership(catalog, "Visitor.Read")
	if err != nil {
		return nil, err
	}
	createPolicy, err := authz.NewSinglePermission(catalog, "Visitor.Create")
	if err != nil {
		return nil, err
	}
	updatePolicy, err := authz.NewSinglePermission(catalog, "Visitor.Update")
	if err != nil {
		return nil, err
	}
	deletePolicy, err := authz.NewSinglePermission(catalog, "Visitor.Delete")
	if err != nil {
		return nil, err
	}
	process, err := authz.NewSinglePermission(catalog, "CheckIn.Process")
	if err != nil {
		return nil, err
	}
	window, err := authz.NewTimeWindow(hours.Start, hours.End, hours.Weekdays...)
	if err != nil {
		return nil, err
	}
	overridePolicy, err := authz.NewSinglePermission(catalog, "CheckIn.Override")
	if err != nil {
		return nil, err
	}
	return &Handler{
		logger:       logger,
		service:      service,
		mw:           mw,
		listPolicy:   listPolicy,
		readPolicy:   readPolicy,
		createPolicy: createPolicy,
		updatePolicy: updatePolicy,
		deletePolicy: deletePolicy,
		checkInPolicy: authz.Composite{
			Name:         "check-in",
			Mode:         authz.CompositeAll,
			Requirements: []authz.Requirement{process, window},
		},
		overridePolicy: overridePolicy,
		checkOutPolicy: process,
	}, nil
}

// MountRoutes registers visitor routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(h.listPolicy))
		r.Get("/", h.list)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireResource(h.readPolicy, "id"))
		r.Get("/{id}", h.get)
		r.Get("/{id}/notes", h.listNotes)
		r.Post("/{id}/notes", h.addNote)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(h.createPolicy))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(h.updatePolicy))
		r.Put("/{id}", h.update)
		r.Post("/{id}/access/{userID}", h.assignAccess)
		r.Delete("/{id}/access/{userID}", h.removeAccess)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(h.deletePolicy))
		r.Delete("/{id}", h.delete)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(h.checkInPolicy))
		r.Post("/{id}/checkin", h.checkIn)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(h.overridePolicy))
		r.Post("/{id}/checkin/override", h.checkIn)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.Require(h.checkOutPolicy))
		r.Post("/{id}/checkout", h.checkOut)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filters := ListFilters{
		Page:   page,
		Limit:  limit,
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
	}
	visitors, total, err := h.service.List(r.Context(), actor, filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"visitors": visitors, "total": total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid visitor id")
		return
	}
	visitor, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, visitor)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input VisitorInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	visitor, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, visitor)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid visitor id")
		return
	}
	var input VisitorInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	visitor, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, visitor)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid visitor id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type checkInRequest struct {
	BadgeNumber string `json:"badge_number"`
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid visitor id")
		return
	}
	var req checkInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	visitor, err := h.service.CheckIn(r.Context(), id, req.BadgeNumber)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, visitor)
}

func (h *Handler) checkOut(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid visitor id")
		return
	}
	visitor, err := h.service.CheckOut(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, visitor)
}

type noteRequest struct {
	Body string `json:"body"`
}

func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid visitor id")
		return
	}
	actor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	var req noteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	note, err := h.service.AddNote(r.Context(), id, actor.UserID, req.Body)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, note)
}

func (h *Handler) listNotes(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid visitor id")
		return
	}
	notes, err := h.service.ListNotes(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (h *Handler) assignAccess(w http.ResponseWriter, r *http.Request) {
	h.mutateAccess(w, r, h.service.AssignAccess)
}

func (h *Handler) removeAccess(w http.ResponseWriter, r *http.Request) {
	h.mutateAccess(w, r, h.service.RemoveAccess)
}

func (h *Handler) mutateAccess(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, visitorID int64) error) {
	visitorID, err := idParam(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid visitor id")
		return
	}
	userID, err := idParam(r, "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	if err := op(r.Context(), userID, visitorID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"visitor_id": visitorID, "user_id": userID})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, httpx.ErrNotFound), errors.Is(err, httpx.ErrValidation):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("visitors handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
