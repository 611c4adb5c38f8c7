package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// InsertNotificationRecord appends one delivery attempt to the log
func (d *DB) InsertNotificationRecord(ctx context.Context, r *model.NotificationRecord) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO notification_record (id, member_id, schedule_id, type, channel, status, message, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.MemberID, nullable(r.ScheduleID), string(r.Type), string(r.Channel), string(r.Status),
		r.Message, nullable(r.ErrorMessage), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification record: %w", err)
	}
	return nil
}

// MarkNotificationRead moves a SENT record to READ
func (d *DB) MarkNotificationRead(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE notification_record SET status = $2 WHERE id = $1 AND status = $3
	`, id, string(model.NotificationRead), string(model.NotificationSent))
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// ListNotificationRecords lists records matching the query, newest first
func (d *DB) ListNotificationRecords(ctx context.Context, query db.NotificationQuery) ([]model.NotificationRecord, error) {
	var conditions []string
	var args []any

	if query.MemberID != "" {
		args = append(args, query.MemberID)
		conditions = append(conditions, fmt.Sprintf("member_id = $%d", len(args)))
	}
	if query.ScheduleID != "" {
		args = append(args, query.ScheduleID)
		conditions = append(conditions, fmt.Sprintf("schedule_id = $%d", len(args)))
	}
	if query.Type != "" {
		args = append(args, string(query.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}

	sql := `
		SELECT id, member_id, schedule_id, type, channel, status, message, error_message, created_at
		FROM notification_record`
	if len(conditions) > 0 {
		sql += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	sql += ` ORDER BY created_at DESC`
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification records: %w", err)
	}
	defer rows.Close()

	var records []model.NotificationRecord
	for rows.Next() {
		var r model.NotificationRecord
		var scheduleID, errorMessage *string
		var typ, channel, status string
		if err := rows.Scan(&r.ID, &r.MemberID, &scheduleID, &typ, &channel, &status,
			&r.Message, &errorMessage, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification record: %w", err)
		}
		r.ScheduleID = deref(scheduleID)
		r.ErrorMessage = deref(errorMessage)
		r.Type = model.NotificationType(typ)
		r.Channel = model.Channel(channel)
		r.Status = model.NotificationStatus(status)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification records: %w", err)
	}

	return records, nil
}

// CountNotifications groups records created since the given time by type, channel and status
func (d *DB) CountNotifications(ctx context.Context, since time.Time) ([]db.NotificationCount, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT type, channel, status, COUNT(*)
		FROM notification_record
		WHERE created_at >= $1
		GROUP BY type, channel, status
		ORDER BY type, channel, status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	defer rows.Close()

	var counts []db.NotificationCount
	for rows.Next() {
		var c db.NotificationCount
		var typ, channel, status string
		if err := rows.Scan(&typ, &channel, &status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan notification count: %w", err)
		}
		c.Type = model.NotificationType(typ)
		c.Channel = model.Channel(channel)
		c.Status = model.NotificationStatus(status)
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification counts: %w", err)
	}

	return counts, nil
}
