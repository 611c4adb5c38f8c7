package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

type mockAuditStore struct {
	entries     []model.AuditLogEntry
	insertErr   error
	lastQuery   db.AuditQuery
	total       int
	deleted     int64
	deletedFrom time.Time
}

func (m *mockAuditStore) InsertAuditLog(ctx context.Context, entry *model.AuditLogEntry) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockAuditStore) QueryAuditLogs(ctx context.Context, query db.AuditQuery) ([]model.AuditLogEntry, int, error) {
	m.lastQuery = query
	return m.entries, m.total, nil
}

func (m *mockAuditStore) DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	m.deletedFrom = before
	return m.deleted, nil
}

func TestRecord_NilTrailIsNoop(t *testing.T) {
	var trail *Trail
	trail.Record(context.Background(), ActionScheduleCreated, "admin", "s1", "created")
}

func TestRecord_Modes(t *testing.T) {
	tests := []struct {
		mode      string
		wantStore int
		wantLogs  int
	}{
		{ModeAll, 1, 1},
		{ModeDB, 1, 0},
		{ModeLog, 0, 1},
		{ModeOff, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			store := &mockAuditStore{}
			trail := NewTrail(store, zap.New(core), tt.mode)

			trail.Record(context.Background(), ActionScheduleCreated, "admin-1", "sched-1", "Created schedule")

			assert.Len(t, store.entries, tt.wantStore)
			assert.Equal(t, tt.wantLogs, logs.FilterMessage("audit event").Len())
		})
	}
}

func TestRecord_PopulatesEntry(t *testing.T) {
	store := &mockAuditStore{}
	trail := NewTrail(store, zap.NewNop(), "")
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	trail.now = func() time.Time { return fixed }

	trail.Record(context.Background(), ActionMemberApproved, "", "member-1", "Approved Alice")

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, ActionMemberApproved, entry.Action)
	assert.Empty(t, entry.ActorID)
	assert.Equal(t, "member-1", entry.TargetID)
	assert.Equal(t, fixed, entry.CreatedAt)
}

func TestRecord_StoreFailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	store := &mockAuditStore{insertErr: errors.New("db down")}
	trail := NewTrail(store, zap.New(core), ModeDB)

	trail.Record(context.Background(), ActionScheduleDeleted, "admin-1", "sched-1", "Deleted")

	assert.Equal(t, 1, logs.FilterMessage("failed to store audit event").Len())
}

func TestQuery_Paging(t *testing.T) {
	store := &mockAuditStore{total: 120}
	trail := NewTrail(store, zap.NewNop(), ModeAll)

	result, err := trail.Query(context.Background(), Filter{Action: ActionScheduleCreated, FreeText: "sunday"}, Page{Number: 3, Size: 50})

	require.NoError(t, err)
	assert.Equal(t, 50, store.lastQuery.Limit)
	assert.Equal(t, 100, store.lastQuery.Offset)
	assert.Equal(t, ActionScheduleCreated, store.lastQuery.Action)
	assert.Equal(t, "sunday", store.lastQuery.FreeText)
	assert.Equal(t, 120, result.Total)
	assert.Equal(t, 3, result.TotalPages)
	assert.Equal(t, 3, result.Page)
}

func TestQuery_DefaultsAndClamps(t *testing.T) {
	store := &mockAuditStore{}
	trail := NewTrail(store, zap.NewNop(), ModeAll)

	_, err := trail.Query(context.Background(), Filter{}, Page{})
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, store.lastQuery.Limit)
	assert.Equal(t, 0, store.lastQuery.Offset)

	_, err = trail.Query(context.Background(), Filter{}, Page{Number: 1, Size: 10000})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, store.lastQuery.Limit)
}

func TestQuery_RejectsInvertedRange(t *testing.T) {
	trail := NewTrail(&mockAuditStore{}, zap.NewNop(), ModeAll)
	start := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := trail.Query(context.Background(), Filter{Start: &start, End: &end}, Page{})

	var validationErr *model.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestCleanup(t *testing.T) {
	store := &mockAuditStore{deleted: 7}
	trail := NewTrail(store, zap.NewNop(), ModeAll)
	fixed := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	trail.now = func() time.Time { return fixed }

	deleted, err := trail.Cleanup(context.Background(), 30*24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), store.deletedFrom)
	require.Len(t, store.entries, 1)
	assert.Equal(t, ActionAuditLogsCleaned, store.entries[0].Action)
}

func TestCleanup_RejectsNonPositiveRetention(t *testing.T) {
	trail := NewTrail(&mockAuditStore{}, zap.NewNop(), ModeAll)

	_, err := trail.Cleanup(context.Background(), 0)

	require.Error(t, err)
}
