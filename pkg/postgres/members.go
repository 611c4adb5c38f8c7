package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

const memberColumns = `id, name, email, phone, campus, ministry, role, status`

func scanMember(row pgx.Row) (model.Member, error) {
	var m model.Member
	var phone *string
	var role, status string
	if err := row.Scan(&m.ID, &m.Name, &m.Email, &phone, &m.Campus, &m.Ministry, &role, &status); err != nil {
		return m, err
	}
	m.Phone = deref(phone)
	m.Role = model.Role(role)
	m.Status = model.MemberStatus(status)
	return m, nil
}

func collectMembers(rows pgx.Rows) ([]model.Member, error) {
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}

	return members, nil
}

// GetMember retrieves one member by id
func (d *DB) GetMember(ctx context.Context, id string) (*model.Member, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM member WHERE id = $1`, id)
	m, err := scanMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

// GetMembers retrieves the members with the given ids. Unknown ids are omitted.
func (d *DB) GetMembers(ctx context.Context, ids []string) ([]model.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := d.pool.Query(ctx, `
		SELECT `+memberColumns+`
		FROM member
		WHERE id = ANY($1)
		ORDER BY name
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	return collectMembers(rows)
}

// ListMembers lists members matching the query, ordered by name
func (d *DB) ListMembers(ctx context.Context, query db.MemberQuery) ([]model.Member, error) {
	var conditions []string
	var args []any

	if query.Campus != "" {
		args = append(args, query.Campus)
		conditions = append(conditions, fmt.Sprintf("campus = $%d", len(args)))
	}
	if query.Ministry != "" {
		args = append(args, query.Ministry)
		conditions = append(conditions, fmt.Sprintf("ministry = $%d", len(args)))
	}
	if query.Status != "" {
		args = append(args, string(query.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	sql := `SELECT ` + memberColumns + ` FROM member`
	if len(conditions) > 0 {
		sql += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	sql += ` ORDER BY name`

	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	return collectMembers(rows)
}

// ListAdmins lists active members with an administrative role
func (d *DB) ListAdmins(ctx context.Context) ([]model.Member, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+memberColumns+`
		FROM member
		WHERE role IN ($1, $2) AND status = $3
		ORDER BY name
	`, string(model.RoleGlobalAdmin), string(model.RoleGroupAdmin), string(model.MemberActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}
	return collectMembers(rows)
}

// SetMemberStatus updates a member's account status
func (d *DB) SetMemberStatus(ctx context.Context, id string, status model.MemberStatus) error {
	tag, err := d.pool.Exec(ctx, `UPDATE member SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update member status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// DeleteMember removes the member and their notification records.
// Assignments and unavailabilities cascade.
func (d *DB) DeleteMember(ctx context.Context, id string) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM notification_record WHERE member_id = $1`, id); err != nil {
		return fmt.Errorf("failed to purge notification records: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM member WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetFunctions retrieves functions by id. Unknown ids are omitted.
func (d *DB) GetFunctions(ctx context.Context, ids []string) ([]model.Function, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := d.pool.Query(ctx, `
		SELECT id, name, group_id
		FROM function
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query functions: %w", err)
	}
	defer rows.Close()

	var functions []model.Function
	for rows.Next() {
		var f model.Function
		var groupID *string
		if err := rows.Scan(&f.ID, &f.Name, &groupID); err != nil {
			return nil, fmt.Errorf("failed to scan function: %w", err)
		}
		f.GroupID = deref(groupID)
		functions = append(functions, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating functions: %w", err)
	}

	return functions, nil
}

// ListAdministeredGroups lists the function groups a user administers
func (d *DB) ListAdministeredGroups(ctx context.Context, userID string) ([]model.FunctionGroup, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT g.id, g.name
		FROM function_group g
		JOIN group_admin ga ON ga.group_id = g.id
		WHERE ga.member_id = $1
		ORDER BY g.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query administered groups: %w", err)
	}
	defer rows.Close()

	var groups []model.FunctionGroup
	for rows.Next() {
		var g model.FunctionGroup
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan function group: %w", err)
		}
		groups = append(groups, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating function groups: %w", err)
	}

	return groups, nil
}
