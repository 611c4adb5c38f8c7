package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// InsertAuditLog appends an audit entry
func (d *DB) InsertAuditLog(ctx context.Context, e *model.AuditLogEntry) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO audit_log (id, action, actor_id, target_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.Action, nullable(e.ActorID), nullable(e.TargetID), e.Description, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// auditFilter builds the WHERE clause shared by the page and count queries
func auditFilter(query db.AuditQuery) (string, []any) {
	var conditions []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if query.Action != "" {
		add("action = $%d", query.Action)
	}
	if query.ActorID != "" {
		add("actor_id = $%d", query.ActorID)
	}
	if query.TargetID != "" {
		add("target_id = $%d", query.TargetID)
	}
	if query.Start != nil {
		add("created_at >= $%d", *query.Start)
	}
	if query.End != nil {
		add("created_at <= $%d", *query.End)
	}
	if query.FreeText != "" {
		add("description ILIKE $%d", "%"+escapeLike(query.FreeText)+"%")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// QueryAuditLogs returns one page of matching entries, newest first, and the total match count
func (d *DB) QueryAuditLogs(ctx context.Context, query db.AuditQuery) ([]model.AuditLogEntry, int, error) {
	where, args := auditFilter(query)

	var total int
	if err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	sql := `SELECT id, action, actor_id, target_id, description, created_at FROM audit_log` + where +
		` ORDER BY created_at DESC, id`
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		var actorID, targetID *string
		if err := rows.Scan(&e.ID, &e.Action, &actorID, &targetID, &e.Description, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.ActorID = deref(actorID)
		e.TargetID = deref(targetID)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return entries, total, nil
}

// DeleteAuditLogsBefore deletes entries created before the cutoff
func (d *DB) DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
