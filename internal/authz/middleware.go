package authz

import (
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse-vms/gatehouse/internal/shared"
)

// Middleware wires authorization checks into HTTP handlers. It translates
// the request into an Actor and RequestContext and delegates the decision to
// the Evaluator; denied requests get a generic 403 that never names the
// missing permission.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
}

// Require guards the wrapped handlers with the given requirement.
func (m Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	return m.require(req, "")
}

// RequireResource guards handlers with a resource-scoped requirement,
// reading the target resource id from the named chi URL parameter.
func (m Middleware) RequireResource(req Requirement, urlParam string) func(http.Handler) http.Handler {
	return m.require(req, urlParam)
}

func (m Middleware) require(req Requirement, urlParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := m.currentActor(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			rc := RequestContext{
				ClientIP: ResolveClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-IP")),
			}
			if urlParam != "" {
				id, err := strconv.ParseInt(chi.URLParam(r, urlParam), 10, 64)
				if err != nil {
					http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
					return
				}
				rc.ResourceID = id
			}
			decision := m.Evaluator.Evaluate(r.Context(), actor, req, rc)
			if !decision.Allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}

func (m Middleware) currentActor(r *http.Request) (Actor, bool) {
	id, ok := shared.SessionUserID(r.Context())
	if !ok {
		sess := shared.SessionFromContext(r.Context())
		if sess != nil && strings.TrimSpace(sess.User()) != "" && m.Logger != nil {
			m.Logger.Error("authz parse user id", slog.String("value", sess.User()))
		}
		return Actor{}, false
	}
	return Actor{UserID: id}, true
}
