// Package notifications turns visit lifecycle events into queued email
// tasks. Nothing here sends mail directly; the worker drains the queue.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gatehouse-vms/gatehouse/internal/users"
	"github.com/gatehouse-vms/gatehouse/internal/visitors"
	"github.com/gatehouse-vms/gatehouse/jobs"
)

// Enqueuer submits email tasks to the queue. Satisfied by the jobs client.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) error
}

// Directory resolves host user ids to accounts. Satisfied by the users
// service.
type Directory interface {
	Get(ctx context.Context, id int64) (users.User, error)
}

// DigestCounts aggregates a day of visits for the daily digest.
type DigestCounts struct {
	Scheduled  int
	CheckedIn  int
	CheckedOut int
	NoShows    int
}

// Service queues visit notifications.
type Service struct {
	queue     Enqueuer
	directory Directory
	printer   *message.Printer
	logger    *slog.Logger
}

// NewService builds a Service.
func NewService(queue Enqueuer, directory Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		queue:     queue,
		directory: directory,
		printer:   message.NewPrinter(language.English),
		logger:    logger,
	}
}

// VisitScheduled notifies the host that a visit was registered.
func (s *Service) VisitScheduled(ctx context.Context, visitor visitors.Visitor) error {
	host, err := s.directory.Get(ctx, visitor.HostUserID)
	if err != nil {
		return fmt.Errorf("notifications: resolve host %d: %w", visitor.HostUserID, err)
	}
	return s.queue.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      host.Email,
		Subject: fmt.Sprintf("Visit scheduled: %s %s", visitor.FirstName, visitor.LastName),
		Body: fmt.Sprintf("%s %s (%s) is scheduled to visit you on %s.",
			visitor.FirstName, visitor.LastName, visitor.Company,
			visitor.ScheduledAt.Format("Monday, 2 January 2006 at 15:04")),
	})
}

// VisitorArrived notifies the host that their visitor checked in.
func (s *Service) VisitorArrived(ctx context.Context, visitor visitors.Visitor) error {
	host, err := s.directory.Get(ctx, visitor.HostUserID)
	if err != nil {
		return fmt.Errorf("notifications: resolve host %d: %w", visitor.HostUserID, err)
	}
	return s.queue.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      host.Email,
		Subject: fmt.Sprintf("Your visitor %s %s has arrived", visitor.FirstName, visitor.LastName),
		Body:    fmt.Sprintf("%s %s checked in at the front desk wearing badge %s.", visitor.FirstName, visitor.LastName, visitor.BadgeNumber),
	})
}

// PermissionChangeAlert tells an operator address that a role's permission
// set changed. Grant and revoke mutations on high-risk permissions feed
// this.
func (s *Service) PermissionChangeAlert(ctx context.Context, to, roleName, action string, permissionIDs []string) error {
	body := fmt.Sprintf("The permission set of role %q changed (%s):\n", roleName, action)
	for _, id := range permissionIDs {
		body += "  - " + id + "\n"
	}
	return s.queue.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      to,
		Subject: fmt.Sprintf("Permission change on role %s", roleName),
		Body:    body,
	})
}

// DailyDigest queues the end-of-day summary for an operator address.
func (s *Service) DailyDigest(ctx context.Context, to string, day time.Time, counts DigestCounts) error {
	body := s.printer.Sprintf(
		"Visitor summary for %s:\n%d visits scheduled, %d checked in, %d checked out, %d no-shows.",
		day.Format("Monday, 2 January 2006"),
		counts.Scheduled, counts.CheckedIn, counts.CheckedOut, counts.NoShows)
	return s.queue.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      to,
		Subject: "Daily visitor digest for " + day.Format("2006-01-02"),
		Body:    body,
	})
}

var _ visitors.Notifier = (*Service)(nil)
