package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

func TestAuditFilter(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	where, args := auditFilter(db.AuditQuery{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = auditFilter(db.AuditQuery{
		Action:   "SCHEDULE_CREATED",
		TargetID: "s1",
		Start:    &start,
		FreeText: "50%_off",
	})
	assert.Equal(t, " WHERE action = $1 AND target_id = $2 AND created_at >= $3 AND description ILIKE $4", where)
	require.Len(t, args, 4)
	assert.Equal(t, `%50\%\_off%`, args[3])
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))
	assert.Equal(t, "x", *nullable("x"))
	assert.Equal(t, "", deref(nil))
}

// Integration tests run against a disposable database named by TEST_DATABASE_URL
func testDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	d, err := NewDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	require.NoError(t, d.RunMigrations(ctx))
	return d
}

func seedMember(t *testing.T, d *DB, name string) model.Member {
	t.Helper()

	m := model.Member{
		ID:       uuid.New().String(),
		Name:     name,
		Email:    name + "@example.com",
		Campus:   "North",
		Ministry: "Media",
		Role:     model.RoleMember,
		Status:   model.MemberActive,
	}
	_, err := d.pool.Exec(context.Background(), `
		INSERT INTO member (id, name, email, campus, ministry, role, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.Name, m.Email, m.Campus, m.Ministry, string(m.Role), string(m.Status))
	require.NoError(t, err)
	return m
}

func TestIntegration_UnavailabilityOverlap(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	m := seedMember(t, d, "ada")

	first := &model.Unavailability{
		ID:        uuid.New().String(),
		MemberID:  m.ID,
		StartDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, d.InsertUnavailability(ctx, first))

	second := &model.Unavailability{
		ID:        uuid.New().String(),
		MemberID:  m.ID,
		StartDate: time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC),
	}
	err := d.InsertUnavailability(ctx, second)
	var overlap *db.OverlapError
	require.True(t, errors.As(err, &overlap))
	assert.Equal(t, first.ID, overlap.Existing.ID)

	covering, err := d.FindUnavailabilitiesCovering(ctx, []string{m.ID}, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, covering, 1)

	covering, err = d.FindUnavailabilitiesCovering(ctx, []string{m.ID}, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, covering)
}

func TestIntegration_ScheduleAggregateRecheck(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	m := seedMember(t, d, "grace")
	date := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, d.InsertUnavailability(ctx, &model.Unavailability{
		ID: uuid.New().String(), MemberID: m.ID, StartDate: date, EndDate: date,
	}))

	now := time.Now().UTC()
	agg := &model.ScheduleAggregate{
		Schedule: model.Schedule{ID: uuid.New().String(), Title: "Sunday", Date: date, Time: "10:00", CreatedAt: now, UpdatedAt: now},
		Members: []model.ScheduleMember{
			{ID: uuid.New().String(), Member: m, Status: model.ConfirmationPending},
		},
	}

	err := d.InsertScheduleAggregate(ctx, agg)
	var unavailable *db.UnavailableMembersError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, []string{m.ID}, unavailable.MemberIDs)

	_, err = d.GetSchedule(ctx, agg.Schedule.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	agg.Schedule.Date = date.AddDate(0, 0, 7)
	require.NoError(t, d.InsertScheduleAggregate(ctx, agg))

	got, err := d.GetSchedule(ctx, agg.Schedule.ID)
	require.NoError(t, err)
	require.Len(t, got.Members, 1)
	assert.Equal(t, m.ID, got.Members[0].Member.ID)

	require.NoError(t, d.SetConfirmationStatus(ctx, agg.Schedule.ID, m.ID, model.ConfirmationConfirmed, now))
	require.NoError(t, d.DeleteSchedule(ctx, agg.Schedule.ID))
	assert.ErrorIs(t, d.DeleteSchedule(ctx, agg.Schedule.ID), db.ErrNotFound)
}

func TestIntegration_UpdateScheduleAggregateRecheck(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	m := seedMember(t, d, "hopper")
	date := time.Date(2024, 7, 7, 0, 0, 0, 0, time.UTC)

	fn := model.Function{ID: uuid.New().String(), Name: "Sound"}
	_, err := d.pool.Exec(ctx, `INSERT INTO function (id, name) VALUES ($1, $2)`, fn.ID, fn.Name)
	require.NoError(t, err)

	now := time.Now().UTC()
	agg := &model.ScheduleAggregate{
		Schedule: model.Schedule{ID: uuid.New().String(), Title: "Sunday", Date: date, Time: "10:00", CreatedAt: now, UpdatedAt: now},
		Members: []model.ScheduleMember{
			{ID: uuid.New().String(), Member: m, Status: model.ConfirmationPending},
		},
	}
	require.NoError(t, d.InsertScheduleAggregate(ctx, agg))

	// The member registers an absence after being scheduled
	require.NoError(t, d.InsertUnavailability(ctx, &model.Unavailability{
		ID: uuid.New().String(), MemberID: m.ID, StartDate: date, EndDate: date,
	}))

	// Reassigning functions among the same members keeps the schedule editable
	members := []model.ScheduleMember{
		{ID: uuid.New().String(), Member: m, Status: model.ConfirmationPending, Functions: []model.Function{fn}},
	}
	require.NoError(t, d.UpdateScheduleAggregate(ctx, &agg.Schedule, members, false))

	got, err := d.GetSchedule(ctx, agg.Schedule.ID)
	require.NoError(t, err)
	require.Len(t, got.Members, 1)
	assert.Equal(t, []string{"Sound"}, got.Members[0].FunctionNames())

	err = d.UpdateScheduleAggregate(ctx, &agg.Schedule, members, true)
	var unavailable *db.UnavailableMembersError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, []string{m.ID}, unavailable.MemberIDs)

	// A date held in the store that differs from the update is always re-checked
	moved := agg.Schedule
	moved.Date = date.AddDate(0, 0, 7)
	require.NoError(t, d.UpdateScheduleAggregate(ctx, &moved, nil, false))
	back := moved
	back.Date = date
	err = d.UpdateScheduleAggregate(ctx, &back, nil, false)
	require.True(t, errors.As(err, &unavailable))
}

func TestIntegration_MarkNotificationRead(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	m := seedMember(t, d, "linus")

	sent := &model.NotificationRecord{
		ID: uuid.New().String(), MemberID: m.ID, Type: model.NotificationCustom,
		Channel: model.ChannelWhatsApp, Status: model.NotificationSent, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, d.InsertNotificationRecord(ctx, sent))

	require.NoError(t, d.MarkNotificationRead(ctx, sent.ID))
	assert.ErrorIs(t, d.MarkNotificationRead(ctx, sent.ID), db.ErrNotFound)

	require.NoError(t, d.DeleteMember(ctx, m.ID))
	records, err := d.ListNotificationRecords(ctx, db.NotificationQuery{MemberID: m.ID})
	require.NoError(t, err)
	assert.Empty(t, records)
}
