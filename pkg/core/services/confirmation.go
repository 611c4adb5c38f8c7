package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/audit"
	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// ConfirmationStore defines the database operations needed to record a member's response
type ConfirmationStore interface {
	GetSchedule(ctx context.Context, id string) (*model.ScheduleAggregate, error)
	SetConfirmationStatus(ctx context.Context, scheduleID, memberID string, status model.ConfirmationStatus, at time.Time) error
}

// ConfirmAttendance records that a member will attend a schedule
func ConfirmAttendance(ctx context.Context, store ConfirmationStore, deps Deps, scheduleID, memberID string) (*model.ScheduleMember, error) {
	return respond(ctx, store, deps, scheduleID, memberID, model.ConfirmationConfirmed)
}

// MarkUnavailable records that a member cannot attend a schedule
func MarkUnavailable(ctx context.Context, store ConfirmationStore, deps Deps, scheduleID, memberID string) (*model.ScheduleMember, error) {
	return respond(ctx, store, deps, scheduleID, memberID, model.ConfirmationUnavailable)
}

// respond moves a PENDING assignment to status. Repeating the same answer is a no-op; changing a
// given answer or answering for a past schedule is an invalid transition. Administrators are told
// about the response in the background.
func respond(ctx context.Context, store ConfirmationStore, deps Deps, scheduleID, memberID string, status model.ConfirmationStatus) (*model.ScheduleMember, error) {
	logger := deps.Logger.With(
		zap.String("schedule_id", scheduleID),
		zap.String("member_id", memberID),
		zap.String("status", string(status)))

	agg, err := loadSchedule(ctx, store, scheduleID)
	if err != nil {
		return nil, err
	}

	current := agg.FindMember(memberID)
	if current == nil {
		return nil, &model.NotFoundError{Entity: "schedule member", ID: memberID}
	}

	if agg.Schedule.Date.Before(deps.today()) {
		return nil, &model.InvalidTransitionError{
			From:   current.Status,
			To:     status,
			Reason: fmt.Sprintf("schedule date %s has passed", agg.Schedule.Date.Format(model.DateLayout)),
		}
	}

	if current.Status == status {
		logger.Debug("Response unchanged")
		return current, nil
	}
	if current.Status.IsTerminal() {
		return nil, &model.InvalidTransitionError{
			From:   current.Status,
			To:     status,
			Reason: "member has already responded",
		}
	}

	at := deps.now().UTC()
	if err := store.SetConfirmationStatus(ctx, scheduleID, memberID, status, at); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &model.NotFoundError{Entity: "schedule member", ID: memberID}
		}
		return nil, fmt.Errorf("failed to update confirmation status: %w", err)
	}
	logger.Info("Recorded response")

	updated := *current
	updated.Status = status
	updated.RespondedAt = &at

	action := audit.ActionAttendanceConfirmed
	if status == model.ConfirmationUnavailable {
		action = audit.ActionAttendanceUnavailable
	}
	deps.Audit.Record(ctx, action, memberID, scheduleID,
		fmt.Sprintf("%s responded %s for %q", current.Member.Name, status, agg.Schedule.Title))

	msg := notify.ConfirmationMessage{Schedule: agg.Schedule, Responder: current.Member, Status: status}
	deps.Detached.Go(ctx, "confirmation-acknowledgement", func(ctx context.Context) error {
		counts := deps.Notifier.NotifyAdmins(ctx, scheduleID, msg)
		logger.Debug("Acknowledged response to administrators", zap.Stringer("counts", counts))
		return nil
	})

	return &updated, nil
}
