package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

func collectUnavailabilities(rows pgx.Rows) ([]model.Unavailability, error) {
	defer rows.Close()

	var unavs []model.Unavailability
	for rows.Next() {
		var u model.Unavailability
		if err := rows.Scan(&u.ID, &u.MemberID, &u.StartDate, &u.EndDate, &u.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan unavailability: %w", err)
		}
		unavs = append(unavs, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unavailabilities: %w", err)
	}

	return unavs, nil
}

// FindUnavailabilitiesCovering returns the intervals of the given members that contain date
func (d *DB) FindUnavailabilitiesCovering(ctx context.Context, memberIDs []string, date time.Time) ([]model.Unavailability, error) {
	if len(memberIDs) == 0 {
		return nil, nil
	}
	return findCovering(ctx, d.pool, memberIDs, date)
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func findCovering(ctx context.Context, q querier, memberIDs []string, date time.Time) ([]model.Unavailability, error) {
	rows, err := q.Query(ctx, `
		SELECT id, member_id, start_date, end_date, reason
		FROM unavailability
		WHERE member_id = ANY($1) AND start_date <= $2 AND end_date >= $2
		ORDER BY member_id, start_date
	`, memberIDs, model.TruncateDate(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query unavailabilities: %w", err)
	}
	return collectUnavailabilities(rows)
}

// ListUnavailabilities lists a member's intervals by start date
func (d *DB) ListUnavailabilities(ctx context.Context, memberID string) ([]model.Unavailability, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, member_id, start_date, end_date, reason
		FROM unavailability
		WHERE member_id = $1
		ORDER BY start_date
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unavailabilities: %w", err)
	}
	return collectUnavailabilities(rows)
}

// InsertUnavailability inserts an interval under the member's lock,
// returning *db.OverlapError if it overlaps an existing one
func (d *DB) InsertUnavailability(ctx context.Context, u *model.Unavailability) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockMembers(ctx, tx, []string{u.MemberID}); err != nil {
		return err
	}

	var existing model.Unavailability
	err = tx.QueryRow(ctx, `
		SELECT id, member_id, start_date, end_date, reason
		FROM unavailability
		WHERE member_id = $1 AND start_date <= $3 AND end_date >= $2
		ORDER BY start_date
		LIMIT 1
	`, u.MemberID, model.TruncateDate(u.StartDate), model.TruncateDate(u.EndDate)).
		Scan(&existing.ID, &existing.MemberID, &existing.StartDate, &existing.EndDate, &existing.Reason)
	if err == nil {
		return &db.OverlapError{MemberID: u.MemberID, Existing: existing}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check overlapping unavailability: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO unavailability (id, member_id, start_date, end_date, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.MemberID, model.TruncateDate(u.StartDate), model.TruncateDate(u.EndDate), u.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert unavailability: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteUnavailability removes an interval
func (d *DB) DeleteUnavailability(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM unavailability WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete unavailability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
