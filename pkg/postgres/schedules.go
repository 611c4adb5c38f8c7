package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

const scheduleColumns = `id, title, description, date, time, location, created_at, updated_at`

func scanSchedule(row pgx.Row) (model.Schedule, error) {
	var s model.Schedule
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.Date, &s.Time, &s.Location, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// GetSchedule retrieves a schedule with its assignments
func (d *DB) GetSchedule(ctx context.Context, id string) (*model.ScheduleAggregate, error) {
	s, err := scanSchedule(d.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedule WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	members, err := d.loadScheduleMembers(ctx, []string{id})
	if err != nil {
		return nil, err
	}

	return &model.ScheduleAggregate{Schedule: s, Members: members[id]}, nil
}

// ListSchedulesBetween lists schedules dated within [from, to], inclusive, by date and time
func (d *DB) ListSchedulesBetween(ctx context.Context, from, to time.Time) ([]model.ScheduleAggregate, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedule
		WHERE date >= $1 AND date <= $2
		ORDER BY date, time
	`, model.TruncateDate(from), model.TruncateDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	rows.Close()

	if len(schedules) == 0 {
		return nil, nil
	}

	ids := make([]string, len(schedules))
	for i, s := range schedules {
		ids[i] = s.ID
	}
	members, err := d.loadScheduleMembers(ctx, ids)
	if err != nil {
		return nil, err
	}

	aggs := make([]model.ScheduleAggregate, len(schedules))
	for i, s := range schedules {
		aggs[i] = model.ScheduleAggregate{Schedule: s, Members: members[s.ID]}
	}
	return aggs, nil
}

// loadScheduleMembers returns the assignments of each schedule, keyed by schedule id,
// with functions in assignment order
func (d *DB) loadScheduleMembers(ctx context.Context, scheduleIDs []string) (map[string][]model.ScheduleMember, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT sm.id, sm.schedule_id, sm.status, sm.responded_at,
			m.id, m.name, m.email, m.phone, m.campus, m.ministry, m.role, m.status
		FROM schedule_member sm
		JOIN member m ON m.id = sm.member_id
		WHERE sm.schedule_id = ANY($1)
		ORDER BY m.name
	`, scheduleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule members: %w", err)
	}
	defer rows.Close()

	type ref struct {
		scheduleID string
		index      int
	}

	result := make(map[string][]model.ScheduleMember, len(scheduleIDs))
	refs := make(map[string]ref)
	var smIDs []string

	for rows.Next() {
		var sm model.ScheduleMember
		var status, role, memberStatus string
		var phone *string
		if err := rows.Scan(&sm.ID, &sm.ScheduleID, &status, &sm.RespondedAt,
			&sm.Member.ID, &sm.Member.Name, &sm.Member.Email, &phone,
			&sm.Member.Campus, &sm.Member.Ministry, &role, &memberStatus); err != nil {
			return nil, fmt.Errorf("failed to scan schedule member: %w", err)
		}
		sm.Status = model.ConfirmationStatus(status)
		sm.Member.Phone = deref(phone)
		sm.Member.Role = model.Role(role)
		sm.Member.Status = model.MemberStatus(memberStatus)
		sm.Functions = []model.Function{}

		refs[sm.ID] = ref{scheduleID: sm.ScheduleID, index: len(result[sm.ScheduleID])}
		result[sm.ScheduleID] = append(result[sm.ScheduleID], sm)
		smIDs = append(smIDs, sm.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule members: %w", err)
	}
	rows.Close()

	if len(smIDs) == 0 {
		return result, nil
	}

	fnRows, err := d.pool.Query(ctx, `
		SELECT fa.schedule_member_id, f.id, f.name, f.group_id
		FROM function_assignment fa
		JOIN function f ON f.id = fa.function_id
		WHERE fa.schedule_member_id = ANY($1)
		ORDER BY fa.schedule_member_id, fa.position
	`, smIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query function assignments: %w", err)
	}
	defer fnRows.Close()

	for fnRows.Next() {
		var smID string
		var f model.Function
		var groupID *string
		if err := fnRows.Scan(&smID, &f.ID, &f.Name, &groupID); err != nil {
			return nil, fmt.Errorf("failed to scan function assignment: %w", err)
		}
		f.GroupID = deref(groupID)

		r := refs[smID]
		members := result[r.scheduleID]
		members[r.index].Functions = append(members[r.index].Functions, f)
	}
	if err := fnRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating function assignments: %w", err)
	}

	return result, nil
}

// InsertScheduleAggregate inserts the schedule and its assignments in one transaction.
// Members are locked and re-checked against unavailability before anything is written.
func (d *DB) InsertScheduleAggregate(ctx context.Context, agg *model.ScheduleAggregate) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	memberIDs := agg.MemberIDs()
	if err := recheckAvailability(ctx, tx, memberIDs, agg.Schedule.Date); err != nil {
		return err
	}

	s := agg.Schedule
	_, err = tx.Exec(ctx, `
		INSERT INTO schedule (id, title, description, date, time, location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.Title, s.Description, model.TruncateDate(s.Date), s.Time, s.Location, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}

	if err := insertScheduleMembers(ctx, tx, s.ID, agg.Members); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateScheduleAggregate updates the schedule row and, when members is non-nil, replaces the
// member set. The availability re-check runs when recheck is set or the stored date differs from
// the new one, so reassigning functions among the same members never conflicts.
func (d *DB) UpdateScheduleAggregate(ctx context.Context, schedule *model.Schedule, members []model.ScheduleMember, recheck bool) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentDate time.Time
	err = tx.QueryRow(ctx, `SELECT date FROM schedule WHERE id = $1 FOR UPDATE`, schedule.ID).Scan(&currentDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock schedule: %w", err)
	}

	newDate := model.TruncateDate(schedule.Date)
	if recheck || !model.TruncateDate(currentDate).Equal(newDate) {
		memberIDs, err := affectedMembers(ctx, tx, schedule.ID, members)
		if err != nil {
			return err
		}
		if err := recheckAvailability(ctx, tx, memberIDs, newDate); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE schedule
		SET title = $2, description = $3, date = $4, time = $5, location = $6, updated_at = $7
		WHERE id = $1
	`, schedule.ID, schedule.Title, schedule.Description, newDate, schedule.Time, schedule.Location, schedule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	if members != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM schedule_member WHERE schedule_id = $1`, schedule.ID); err != nil {
			return fmt.Errorf("failed to clear schedule members: %w", err)
		}
		if err := insertScheduleMembers(ctx, tx, schedule.ID, members); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// affectedMembers returns the replacement member ids, or the current ones when members is nil
func affectedMembers(ctx context.Context, tx pgx.Tx, scheduleID string, members []model.ScheduleMember) ([]string, error) {
	if members != nil {
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.Member.ID
		}
		return ids, nil
	}

	rows, err := tx.Query(ctx, `SELECT member_id FROM schedule_member WHERE schedule_id = $1`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member ids: %w", err)
	}
	return ids, nil
}

// recheckAvailability locks the members and fails with *db.UnavailableMembersError
// if any of them is unavailable on date
func recheckAvailability(ctx context.Context, tx pgx.Tx, memberIDs []string, date time.Time) error {
	if len(memberIDs) == 0 {
		return nil
	}

	if err := lockMembers(ctx, tx, memberIDs); err != nil {
		return err
	}

	covering, err := findCovering(ctx, tx, memberIDs, date)
	if err != nil {
		return err
	}
	if len(covering) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var blocked []string
	for _, u := range covering {
		if !seen[u.MemberID] {
			seen[u.MemberID] = true
			blocked = append(blocked, u.MemberID)
		}
	}
	sort.Strings(blocked)
	return &db.UnavailableMembersError{MemberIDs: blocked}
}

func insertScheduleMembers(ctx context.Context, tx pgx.Tx, scheduleID string, members []model.ScheduleMember) error {
	for _, sm := range members {
		status := sm.Status
		if status == "" {
			status = model.ConfirmationPending
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO schedule_member (id, schedule_id, member_id, status, responded_at)
			VALUES ($1, $2, $3, $4, $5)
		`, sm.ID, scheduleID, sm.Member.ID, string(status), sm.RespondedAt)
		if err != nil {
			return fmt.Errorf("failed to insert schedule member: %w", err)
		}

		for i, f := range sm.Functions {
			_, err := tx.Exec(ctx, `
				INSERT INTO function_assignment (schedule_member_id, function_id, position)
				VALUES ($1, $2, $3)
			`, sm.ID, f.ID, i)
			if err != nil {
				return fmt.Errorf("failed to insert function assignment: %w", err)
			}
		}
	}
	return nil
}

// DeleteSchedule removes a schedule; assignments cascade
func (d *DB) DeleteSchedule(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM schedule WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// SetConfirmationStatus records a member's answer for a schedule
func (d *DB) SetConfirmationStatus(ctx context.Context, scheduleID, memberID string, status model.ConfirmationStatus, at time.Time) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE schedule_member
		SET status = $3, responded_at = $4
		WHERE schedule_id = $1 AND member_id = $2
	`, scheduleID, memberID, string(status), at)
	if err != nil {
		return fmt.Errorf("failed to update confirmation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
