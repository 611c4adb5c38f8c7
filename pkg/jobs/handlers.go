package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	TypeSendEmail         = "send-email"
	TypeScheduleReminders = "schedule-reminders"
	TypeAuditCleanup      = "audit-cleanup"
)

// EmailPayload is the payload of a send-email job
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer delivers a single email. gmailclient.Client implements this interface.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SendEmailHandler delivers send-email jobs. Sending the same email twice is acceptable, so a
// redelivered job is simply sent again.
func SendEmailHandler(mailer Mailer, logger *zap.Logger) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var email EmailPayload
		if err := json.Unmarshal(payload, &email); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid email payload: %w", err))
		}
		if strings.TrimSpace(email.To) == "" {
			return backoff.Permanent(fmt.Errorf("invalid email payload: missing recipient"))
		}

		if err := mailer.SendEmail(ctx, email.To, email.Subject, email.Body); err != nil {
			return fmt.Errorf("failed to send email to %s: %w", email.To, err)
		}

		logger.Info("Email sent", zap.String("to", email.To), zap.String("subject", email.Subject))
		return nil
	}
}

// ScheduleRemindersHandler runs the reminder sweep. The sweep records each reminder it sends, so
// a retried sweep re-sends reminders only to members whose earlier attempt failed.
func ScheduleRemindersHandler(sweep func(ctx context.Context) error) Handler {
	return func(ctx context.Context, _ json.RawMessage) error {
		return sweep(ctx)
	}
}

// AuditCleanupHandler deletes audit entries past their retention. Running it twice deletes nothing
// the second time.
func AuditCleanupHandler(cleanup func(ctx context.Context) error) Handler {
	return func(ctx context.Context, _ json.RawMessage) error {
		return cleanup(ctx)
	}
}

// EmailEnqueuer adapts a Queue to the dispatcher's email fallback
type EmailEnqueuer struct {
	Queue *Queue
}

// EnqueueEmail enqueues a send-email job
func (e EmailEnqueuer) EnqueueEmail(ctx context.Context, to, subject, body string) error {
	_, err := e.Queue.Enqueue(ctx, TypeSendEmail, EmailPayload{To: to, Subject: subject, Body: body}, EnqueueOptions{})
	return err
}
