// Package jobs defines the background task types and the Asynq worker that
// processes them: transactional email, permission cache reconciliation after
// a degraded invalidation, and the daily visitor digest.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeCacheReconcile re-runs the permission cache invalidation
	// fan-out for a role whose mutation completed with a degraded cache.
	TaskTypeCacheReconcile = "authz:cache-reconcile"
	// TaskTypeDailyDigest builds and queues the end-of-day visitor summary.
	TaskTypeDailyDigest = "visits:daily-digest"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: SMTP delivery lands with the mail relay rollout.
	fmt.Printf("[jobs] send email to %s subject=%s\n", payload.To, payload.Subject)
	return nil
}

// CacheReconcilePayload identifies the role whose holders need their cache
// entries dropped again.
type CacheReconcilePayload struct {
	RoleID int64 `json:"role_id"`
}

// NewCacheReconcileTask constructs an Asynq task.
func NewCacheReconcileTask(payload CacheReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	// MaxRetry is generous: the payload is idempotent and the write it
	// reconciles is already committed.
	return asynq.NewTask(TaskTypeCacheReconcile, data, asynq.MaxRetry(10)), nil
}

// NewDailyDigestTask constructs the cron-fired digest task.
func NewDailyDigestTask() *asynq.Task {
	return asynq.NewTask(TaskTypeDailyDigest, nil)
}
