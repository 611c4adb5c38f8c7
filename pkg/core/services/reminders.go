package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// ReminderStore defines the database operations needed for the reminder sweep
type ReminderStore interface {
	ListSchedulesBetween(ctx context.Context, from, to time.Time) ([]model.ScheduleAggregate, error)
	ListNotificationRecords(ctx context.Context, query db.NotificationQuery) ([]model.NotificationRecord, error)
}

// ReminderSummary is the outcome of a reminder sweep
type ReminderSummary struct {
	Date          time.Time
	Schedules     int
	Notifications notify.Counts
}

// SendScheduleReminders reminds members of schedules dated leadDays from today. Members who marked
// themselves unavailable are left out, as are members already sent a reminder for the schedule, so
// running the sweep again only retries failed deliveries.
func SendScheduleReminders(ctx context.Context, store ReminderStore, deps Deps, leadDays int) (*ReminderSummary, error) {
	logger := deps.Logger
	target := deps.today().AddDate(0, 0, leadDays)
	logger.Info("Starting reminder sweep", zap.String("date", target.Format(model.DateLayout)))

	schedules, err := store.ListSchedulesBetween(ctx, target, target)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schedules: %w", err)
	}
	logger.Debug("Found schedules", zap.Int("count", len(schedules)))

	summary := &ReminderSummary{Date: target, Schedules: len(schedules)}

	for i := range schedules {
		agg := &schedules[i]

		previous, err := store.ListNotificationRecords(ctx, db.NotificationQuery{
			ScheduleID: agg.Schedule.ID,
			Type:       model.NotificationReminder,
		})
		if err != nil {
			logger.Error("Failed to fetch previous reminders, skipping schedule",
				zap.String("schedule_id", agg.Schedule.ID),
				zap.Error(err))
			continue
		}
		reminded := make(map[string]bool, len(previous))
		for _, r := range previous {
			if r.Status == model.NotificationSent || r.Status == model.NotificationRead {
				reminded[r.MemberID] = true
			}
		}

		recipients := notify.ScheduleRecipients(agg, func(sm model.ScheduleMember) bool {
			return sm.Status != model.ConfirmationUnavailable && !reminded[sm.Member.ID]
		})
		if len(recipients) == 0 {
			logger.Debug("No members to remind", zap.String("schedule_id", agg.Schedule.ID))
			continue
		}

		counts := deps.Notifier.Dispatch(ctx, agg.Schedule.ID, "", notify.ReminderMessage{Schedule: agg.Schedule}, recipients)
		summary.Notifications.Add(counts)
	}

	logger.Info("Reminder sweep completed",
		zap.String("date", target.Format(model.DateLayout)),
		zap.Int("schedules", summary.Schedules),
		zap.Stringer("notifications", summary.Notifications))

	return summary, nil
}
