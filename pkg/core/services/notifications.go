package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/audit"
	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// CustomNotificationStore defines the database operations needed to send a custom notification
type CustomNotificationStore interface {
	GetSchedule(ctx context.Context, id string) (*model.ScheduleAggregate, error)
	GetMembers(ctx context.Context, ids []string) ([]model.Member, error)
}

// CustomNotificationInput addresses free text to a schedule's members, to chosen members, or to
// chosen members of a schedule when both are given
type CustomNotificationInput struct {
	ScheduleID string
	MemberIDs  []string
	Text       string
	ActorID    string
}

// SendCustomNotification sends an administrator's message. Only loading the schedule or members
// can fail; delivery outcomes are reported in the counts.
func SendCustomNotification(ctx context.Context, store CustomNotificationStore, deps Deps, input CustomNotificationInput) (notify.Counts, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return notify.Counts{}, &model.ValidationError{Field: "message", Message: "is required"}
	}
	if input.ScheduleID == "" && len(input.MemberIDs) == 0 {
		return notify.Counts{}, &model.ValidationError{Field: "recipients", Message: "a schedule or at least one member is required"}
	}

	msg := notify.CustomMessage{Text: text}
	var recipients []notify.Recipient

	if input.ScheduleID != "" {
		agg, err := loadSchedule(ctx, store, input.ScheduleID)
		if err != nil {
			return notify.Counts{}, err
		}
		msg.Schedule = &agg.Schedule

		var include func(model.ScheduleMember) bool
		if len(input.MemberIDs) > 0 {
			wanted := make(map[string]bool, len(input.MemberIDs))
			for _, id := range input.MemberIDs {
				if agg.FindMember(id) == nil {
					return notify.Counts{}, &model.NotFoundError{Entity: "schedule member", ID: id}
				}
				wanted[id] = true
			}
			include = func(sm model.ScheduleMember) bool { return wanted[sm.Member.ID] }
		}
		recipients = notify.ScheduleRecipients(agg, include)
	} else {
		ids := uniqueStrings(input.MemberIDs)
		members, err := store.GetMembers(ctx, ids)
		if err != nil {
			return notify.Counts{}, fmt.Errorf("failed to fetch members: %w", err)
		}
		byID := make(map[string]model.Member, len(members))
		for _, m := range members {
			byID[m.ID] = m
		}
		for _, id := range ids {
			m, ok := byID[id]
			if !ok {
				return notify.Counts{}, &model.NotFoundError{Entity: "member", ID: id}
			}
			recipients = append(recipients, notify.Recipient{Member: m})
		}
	}

	counts := deps.Notifier.Dispatch(ctx, input.ScheduleID, input.ActorID, msg, recipients)

	deps.Audit.Record(ctx, audit.ActionCustomNotification, input.ActorID, input.ScheduleID,
		fmt.Sprintf("Custom notification to %d recipients: %s", len(recipients), counts))

	return counts, nil
}

// NotificationLogStore defines the notification log operations
type NotificationLogStore interface {
	MarkNotificationRead(ctx context.Context, id string) error
	CountNotifications(ctx context.Context, since time.Time) ([]db.NotificationCount, error)
}

// MarkNotificationRead moves a sent notification to READ
func MarkNotificationRead(ctx context.Context, store NotificationLogStore, id string) error {
	if err := store.MarkNotificationRead(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return &model.NotFoundError{Entity: "sent notification", ID: id}
		}
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// NotificationStats summarises the notification log
type NotificationStats struct {
	Since    time.Time
	Rows     []db.NotificationCount
	ByStatus map[model.NotificationStatus]int
	Total    int
}

// GetNotificationStats returns notification counts grouped by type, channel and status since a time
func GetNotificationStats(ctx context.Context, store NotificationLogStore, logger *zap.Logger, since time.Time) (*NotificationStats, error) {
	rows, err := store.CountNotifications(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Type != rows[j].Type {
			return rows[i].Type < rows[j].Type
		}
		if rows[i].Channel != rows[j].Channel {
			return rows[i].Channel < rows[j].Channel
		}
		return rows[i].Status < rows[j].Status
	})

	stats := &NotificationStats{
		Since:    since,
		Rows:     rows,
		ByStatus: make(map[model.NotificationStatus]int),
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] += row.Count
		stats.Total += row.Count
	}

	logger.Debug("Computed notification stats", zap.Int("groups", len(rows)), zap.Int("total", stats.Total))
	return stats, nil
}
