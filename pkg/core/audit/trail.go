package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// Actions recorded in the audit trail
const (
	ActionScheduleCreated        = "SCHEDULE_CREATED"
	ActionScheduleUpdated        = "SCHEDULE_UPDATED"
	ActionScheduleDeleted        = "SCHEDULE_DELETED"
	ActionAttendanceConfirmed    = "ATTENDANCE_CONFIRMED"
	ActionAttendanceUnavailable  = "ATTENDANCE_UNAVAILABLE"
	ActionMemberApproved         = "MEMBER_APPROVED"
	ActionMemberRejected         = "MEMBER_REJECTED"
	ActionMemberDeleted          = "MEMBER_DELETED"
	ActionUnavailabilityCreated  = "UNAVAILABILITY_CREATED"
	ActionUnavailabilityDeleted  = "UNAVAILABILITY_DELETED"
	ActionNotificationDispatched = "NOTIFICATION_DISPATCHED"
	ActionCustomNotification     = "CUSTOM_NOTIFICATION_SENT"
	ActionAuditLogsCleaned       = "AUDIT_LOGS_CLEANED"
)

// Modes control where entries go: "all" (store + zap), "db" (store only), "log" (zap only), "off"
const (
	ModeAll = "all"
	ModeDB  = "db"
	ModeLog = "log"
	ModeOff = "off"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Store defines the database operations needed by the trail
type Store interface {
	InsertAuditLog(ctx context.Context, entry *model.AuditLogEntry) error
	QueryAuditLogs(ctx context.Context, query db.AuditQuery) ([]model.AuditLogEntry, int, error)
	DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Trail is the append-only audit log
type Trail struct {
	store  Store
	logger *zap.Logger
	mode   string
	now    func() time.Time
}

// NewTrail creates a new audit trail. An empty mode means ModeAll.
func NewTrail(store Store, logger *zap.Logger, mode string) *Trail {
	if mode == "" {
		mode = ModeAll
	}
	return &Trail{store: store, logger: logger, mode: mode, now: time.Now}
}

// Record appends an entry. It never returns an error: store failures are logged so that auditing
// cannot block the operation being audited. A nil trail is a no-op.
func (t *Trail) Record(ctx context.Context, action, actorID, targetID, description string) {
	if t == nil || t.mode == ModeOff {
		return
	}

	entry := &model.AuditLogEntry{
		ID:          uuid.New().String(),
		Action:      action,
		ActorID:     actorID,
		TargetID:    targetID,
		Description: description,
		CreatedAt:   t.now().UTC(),
	}

	if t.mode == ModeAll || t.mode == ModeLog {
		t.logger.Info("audit event",
			zap.Bool("audit", true),
			zap.String("action", entry.Action),
			zap.String("actor_id", entry.ActorID),
			zap.String("target_id", entry.TargetID),
			zap.String("description", entry.Description))
	}

	if t.mode == ModeAll || t.mode == ModeDB {
		if err := t.store.InsertAuditLog(ctx, entry); err != nil {
			t.logger.Error("failed to store audit event",
				zap.Error(err),
				zap.String("action", entry.Action),
				zap.String("target_id", entry.TargetID))
		}
	}
}

// Filter narrows an audit query. Zero values mean "no filter".
type Filter struct {
	Action   string
	ActorID  string
	TargetID string
	Start    *time.Time
	End      *time.Time
	FreeText string
}

// Page is a 1-based page request
type Page struct {
	Number int
	Size   int
}

// Result is one page of audit entries, newest first
type Result struct {
	Entries    []model.AuditLogEntry
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// Query returns a page of entries matching the filter
func (t *Trail) Query(ctx context.Context, filter Filter, page Page) (*Result, error) {
	if filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start) {
		return nil, &model.ValidationError{Field: "dateRange", Message: "end is before start"}
	}

	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size < 1 {
		page.Size = defaultPageSize
	}
	if page.Size > maxPageSize {
		page.Size = maxPageSize
	}

	entries, total, err := t.store.QueryAuditLogs(ctx, db.AuditQuery{
		Action:   filter.Action,
		ActorID:  filter.ActorID,
		TargetID: filter.TargetID,
		Start:    filter.Start,
		End:      filter.End,
		FreeText: filter.FreeText,
		Limit:    page.Size,
		Offset:   (page.Number - 1) * page.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return &Result{
		Entries:    entries,
		Total:      total,
		Page:       page.Number,
		PageSize:   page.Size,
		TotalPages: (total + page.Size - 1) / page.Size,
	}, nil
}

// Cleanup deletes entries older than retention and records that it did so
func (t *Trail) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, &model.ValidationError{Field: "retention", Message: "must be positive"}
	}

	cutoff := t.now().UTC().Add(-retention)
	deleted, err := t.store.DeleteAuditLogsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}

	t.logger.Info("Cleaned up audit logs",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted))
	t.Record(ctx, ActionAuditLogsCleaned, "", "",
		fmt.Sprintf("deleted %d entries older than %s", deleted, cutoff.Format(model.DateLayout)))

	return deleted, nil
}
