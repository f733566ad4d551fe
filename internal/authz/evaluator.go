package authz

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/gatehouse-vms/gatehouse/internal/observability"
)

// PermissionSource supplies resolved permission sets; in production this is
// the Cache.
type PermissionSource interface {
	GetUserPermissions(ctx context.Context, userID int64) (Resolution, error)
}

// OwnershipPort answers resource-ownership lookups for "Own" variants.
type OwnershipPort interface {
	HasResourceAccess(ctx context.Context, userID, resourceID int64) (bool, error)
}

// RequestContext carries the request-scoped facts some requirement variants
// need. ClientIP is the already-resolved caller address; Now defaults to the
// wall clock when zero.
type RequestContext struct {
	ResourceID int64
	ClientIP   string
	Now        time.Time
}

// Decision is the outcome of an authorization check. Reason is for internal
// logs only; callers surface a generic denial.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluator decides allow/deny for a requirement against an actor's
// resolved permission set. Evaluation is pure computation once the
// resolution is in hand; only the resolution itself may block.
type Evaluator struct {
	perms   PermissionSource
	grants  OwnershipPort
	logger  *slog.Logger
	metrics *observability.Metrics
	timeout time.Duration
}

// NewEvaluator constructs an Evaluator. timeout bounds permission
// resolution on the request path; a timed-out resolution denies.
func NewEvaluator(perms PermissionSource, grants OwnershipPort, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Evaluator{perms: perms, grants: grants, logger: logger, metrics: metrics, timeout: timeout}
}

// Evaluate decides whether the actor may perform the operation guarded by
// the requirement. Any resolution failure denies: the evaluator fails
// closed, and such denials are logged distinctly from permission mismatches.
func (e *Evaluator) Evaluate(ctx context.Context, actor Actor, req Requirement, rc RequestContext) Decision {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.perms.GetUserPermissions(ctx, actor.UserID)
	if err != nil {
		e.logger.Error("authorization resolution failed, denying",
			slog.Int64("user_id", actor.UserID),
			slog.Any("error", err))
		e.metrics.AuthzDecision("deny_error")
		return deny("resolution failure")
	}
	if res.Suspended {
		return e.finish(actor, req, deny("account suspended or role inactive"))
	}

	decision, err := e.apply(ctx, res, req, rc)
	if err != nil {
		e.logger.Error("authorization resolution failed, denying",
			slog.Int64("user_id", actor.UserID),
			slog.Any("error", err))
		e.metrics.AuthzDecision("deny_error")
		return deny("resolution failure")
	}
	return e.finish(actor, req, decision)
}

func (e *Evaluator) finish(actor Actor, req Requirement, decision Decision) Decision {
	if decision.Allowed {
		e.metrics.AuthzDecision("allow")
		return decision
	}
	e.metrics.AuthzDecision("deny")
	e.logger.Info("authorization denied",
		slog.Int64("user_id", actor.UserID),
		slog.String("requirement", requirementName(req)),
		slog.String("reason", decision.Reason))
	return decision
}

func (e *Evaluator) apply(ctx context.Context, res Resolution, req Requirement, rc RequestContext) (Decision, error) {
	set := res.Set()
	switch r := req.(type) {
	case SinglePermission:
		if set.Has(r.Permission) {
			return allow(), nil
		}
		return deny("missing permission " + r.Permission), nil

	case AllOf:
		if set.HasAll(r.Permissions) {
			return allow(), nil
		}
		return deny("missing one of required permissions " + strings.Join(r.Permissions, ",")), nil

	case AnyOf:
		if set.HasAny(r.Permissions) {
			return allow(), nil
		}
		return deny("holds none of permissions " + strings.Join(r.Permissions, ",")), nil

	case RoleOrHigher:
		if res.RoleLevel >= r.Level {
			return allow(), nil
		}
		return deny("role level below required"), nil

	case RoleInSet:
		for _, id := range r.RoleIDs {
			if res.RoleID == id {
				return allow(), nil
			}
		}
		return deny("role not in allowed set"), nil

	case ResourceOwnership:
		if set.Has(r.All) {
			return allow(), nil
		}
		if !set.Has(r.Own) {
			return deny("missing permission " + r.Own), nil
		}
		granted, err := e.grants.HasResourceAccess(ctx, res.UserID, rc.ResourceID)
		if err != nil {
			return Decision{}, err
		}
		if granted {
			return allow(), nil
		}
		return deny("no resource access grant"), nil

	case TimeWindow:
		now := rc.Now
		if now.IsZero() {
			now = time.Now()
		}
		if !weekdayAllowed(r.Weekdays, now.Weekday()) {
			return deny("outside permitted weekdays"), nil
		}
		if inWindow(r, now) {
			return allow(), nil
		}
		return deny("outside permitted hours"), nil

	case IPAllowlist:
		addr, err := netip.ParseAddr(rc.ClientIP)
		if err != nil {
			return deny("client ip unresolvable"), nil
		}
		for _, allowed := range r.Addrs {
			if addr == allowed {
				return allow(), nil
			}
		}
		for _, prefix := range r.Prefixes {
			if prefix.Contains(addr) {
				return allow(), nil
			}
		}
		return deny("client ip not allowlisted"), nil

	case Composite:
		return e.applyComposite(ctx, res, r, rc)
	}
	return deny("unknown requirement variant"), nil
}

func (e *Evaluator) applyComposite(ctx context.Context, res Resolution, c Composite, rc RequestContext) (Decision, error) {
	for _, part := range c.Requirements {
		decision, err := e.apply(ctx, res, part, rc)
		if err != nil {
			return Decision{}, err
		}
		if c.Mode == CompositeAny && decision.Allowed {
			return allow(), nil
		}
		if c.Mode == CompositeAll && !decision.Allowed {
			return deny("composite " + c.Name + ": " + decision.Reason), nil
		}
	}
	if c.Mode == CompositeAll {
		return allow(), nil
	}
	return deny("composite " + c.Name + ": no branch allowed"), nil
}

func weekdayAllowed(weekdays []time.Weekday, day time.Weekday) bool {
	if len(weekdays) == 0 {
		return true
	}
	for _, d := range weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// inWindow handles overnight windows: when start > end the window wraps past
// midnight.
func inWindow(w TimeWindow, now time.Time) bool {
	cur := now.Hour()*60 + now.Minute()
	start, end := w.Start.Minutes(), w.End.Minutes()
	if start < end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// ResolveClientIP picks the caller address: the first non-empty forwarding
// header value wins, falling back to the transport remote address.
func ResolveClientIP(remoteAddr string, forwarded ...string) string {
	for _, value := range forwarded {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		// X-Forwarded-For may carry a chain; the first hop is the client.
		if first, _, found := strings.Cut(value, ","); found {
			return strings.TrimSpace(first)
		}
		return value
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func requirementName(req Requirement) string {
	switch r := req.(type) {
	case SinglePermission:
		return "single:" + r.Permission
	case AllOf:
		return "all-of"
	case AnyOf:
		return "any-of"
	case RoleOrHigher:
		return "role-or-higher"
	case RoleInSet:
		return "role-in-set"
	case ResourceOwnership:
		return "resource-ownership:" + r.Own
	case TimeWindow:
		return "time-window"
	case IPAllowlist:
		return "ip-allowlist"
	case Composite:
		return "composite:" + r.Name
	}
	return "unknown"
}
