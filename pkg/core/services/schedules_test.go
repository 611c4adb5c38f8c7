package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/campus-rota/pkg/core/audit"
	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

func scheduleInput(day string, memberIDs ...string) ScheduleInput {
	input := ScheduleInput{
		Title:    "Sunday Service",
		Date:     date(day),
		Time:     "10:00",
		Location: "Main Hall",
		ActorID:  "admin-1",
	}
	for _, id := range memberIDs {
		input.Members = append(input.Members, MemberAssignment{MemberID: id})
	}
	return input
}

func TestCreateSchedule_Success(t *testing.T) {
	env := newTestEnv()
	env.store.addMember(activeMember("alice", "Alice Smith"))
	env.store.addMember(activeMember("bob", "Bob Jones"))
	env.store.functions["f-light"] = model.Function{ID: "f-light", Name: "Lighting"}

	input := scheduleInput("2024-05-12", "alice", "bob")
	input.Members[0].FunctionIDs = []string{"f-light", "f-light"}

	result, err := CreateSchedule(context.Background(), env.store, env.deps, input)
	require.NoError(t, err)
	require.NotNil(t, result.Aggregate)

	agg := result.Aggregate
	assert.NotEmpty(t, agg.Schedule.ID)
	assert.Equal(t, date("2024-05-12"), agg.Schedule.Date)
	require.Len(t, agg.Members, 2)
	for _, sm := range agg.Members {
		assert.Equal(t, model.ConfirmationPending, sm.Status)
		assert.Equal(t, agg.Schedule.ID, sm.ScheduleID)
	}
	assert.Equal(t, []string{"Lighting"}, agg.Members[0].FunctionNames())

	assert.Contains(t, env.store.schedules, agg.Schedule.ID)
	assert.Equal(t, []string{audit.ActionScheduleCreated}, env.auditor.actions())

	calls := env.notifier.callList()
	require.Len(t, calls, 1)
	assert.Equal(t, model.NotificationAssignment, calls[0].msg.Type())
	assert.ElementsMatch(t, []string{"alice", "bob"}, calls[0].recipients)
	assert.Equal(t, 2, result.Notifications.Sent)
}

func TestCreateSchedule_RejectsUnavailableMember(t *testing.T) {
	env := newTestEnv()
	env.store.addMember(activeMember("alice", "Alice Smith"))
	env.store.addMember(activeMember("bob", "Bob Jones"))
	env.availability.unavailabilities = []model.Unavailability{
		{ID: "u1", MemberID: "bob", StartDate: date("2024-05-01"), EndDate: date("2024-05-10")},
	}

	// Inside the interval
	_, err := CreateSchedule(context.Background(), env.store, env.deps, scheduleInput("2024-05-05", "alice", "bob"))
	require.Error(t, err)

	var conflict *model.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"Bob Jones"}, conflict.Names)
	assert.Contains(t, conflict.Reason, "2024-05-05")

	assert.Empty(t, env.store.schedules, "nothing should be persisted")
	assert.Empty(t, env.notifier.callList())
	assert.Empty(t, env.auditor.actions())

	// The day after the interval ends
	result, err := CreateSchedule(context.Background(), env.store, env.deps, scheduleInput("2024-05-11", "alice", "bob"))
	require.NoError(t, err)
	assert.Len(t, result.Aggregate.Members, 2)
}

func TestCreateSchedule_IntervalBoundsAreInclusive(t *testing.T) {
	env := newTestEnv()
	env.store.addMember(activeMember("bob", "Bob Jones"))
	env.availability.unavailabilities = []model.Unavailability{
		{ID: "u1", MemberID: "bob", StartDate: date("2024-05-01"), EndDate: date("2024-05-10")},
	}

	for _, day := range []string{"2024-05-01", "2024-05-10"} {
		_, err := CreateSchedule(context.Background(), env.store, env.deps, scheduleInput(day, "bob"))
		var conflict *model.ConflictError
		assert.True(t, errors.As(err, &conflict), "expected conflict on %s", day)
	}
}

func TestCreateSchedule_StoreRecheckConflict(t *testing.T) {
	env := newTestEnv()
	env.store.addMember(activeMember("alice", "Alice Smith"))
	env.store.insertErr = &db.UnavailableMembersError{MemberIDs: []string{"alice"}}

	_, err := CreateSchedule(context.Background(), env.store, env.deps, scheduleInput("2024-05-12", "alice"))

	var conflict *model.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"Alice Smith"}, conflict.Names)
	assert.Empty(t, env.notifier.callList())
}

func TestCreateSchedule_Validation(t *testing.T) {
	env := newTestEnv()
	env.store.addMember(activeMember("alice", "Alice Smith"))
	pending := activeMember("carol", "Carol White")
	pending.Status = model.MemberPending
	env.store.addMember(pending)

	tests := []struct {
		name   string
		mutate func(*ScheduleInput)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "missing title",
			mutate: func(in *ScheduleInput) { in.Title = "  " },
			check: func(t *testing.T, err error) {
				var v *model.ValidationError
				require.True(t, errors.As(err, &v))
				assert.Equal(t, "title", v.Field)
			},
		},
		{
			name:   "bad time",
			mutate: func(in *ScheduleInput) { in.Time = "25:99" },
			check: func(t *testing.T, err error) {
				var v *model.ValidationError
				require.True(t, errors.As(err, &v))
				assert.Equal(t, "time", v.Field)
			},
		},
		{
			name:   "unknown member",
			mutate: func(in *ScheduleInput) { in.Members = []MemberAssignment{{MemberID: "ghost"}} },
			check: func(t *testing.T, err error) {
				var nf *model.NotFoundError
				require.True(t, errors.As(err, &nf))
				assert.Equal(t, "ghost", nf.ID)
			},
		},
		{
			name:   "unknown function",
			mutate: func(in *ScheduleInput) { in.Members[0].FunctionIDs = []string{"f-none"} },
			check: func(t *testing.T, err error) {
				var nf *model.NotFoundError
				require.True(t, errors.As(err, &nf))
				assert.Equal(t, "function", nf.Entity)
			},
		},
		{
			name: "duplicate member",
			mutate: func(in *ScheduleInput) {
				in.Members = append(in.Members, MemberAssignment{MemberID: "alice"})
			},
			check: func(t *testing.T, err error) {
				var c *model.ConflictError
				require.True(t, errors.As(err, &c))
			},
		},
		{
			name:   "pending member",
			mutate: func(in *ScheduleInput) { in.Members = []MemberAssignment{{MemberID: "carol"}} },
			check: func(t *testing.T, err error) {
				var v *model.ValidationError
				require.True(t, errors.As(err, &v))
				assert.Equal(t, "members", v.Field)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := scheduleInput("2024-05-12", "alice")
			tt.mutate(&input)

			_, err := CreateSchedule(context.Background(), env.store, env.deps, input)
			require.Error(t, err)
			tt.check(t, err)
		})
	}

	assert.Empty(t, env.store.schedules)
}

func TestUpdateSchedule_TitleOnlySkipsAvailabilityCheck(t *testing.T) {
	env := newTestEnv()
	bob := activeMember("bob", "Bob Jones")
	env.seedSchedule("s1", "2024-05-05", bob)
	// Bob became unavailable after being scheduled; a title edit must still succeed
	env.availability.unavailabilities = []model.Unavailability{
		{ID: "u1", MemberID: "bob", StartDate: date("2024-05-01"), EndDate: date("2024-05-10")},
	}

	title := "Evening Service"
	result, err := UpdateSchedule(context.Background(), env.store, env.deps, "s1", ScheduleUpdate{Title: &title, ActorID: "admin-1"})
	require.NoError(t, err)

	assert.Equal(t, "Evening Service", result.Aggregate.Schedule.Title)
	assert.Equal(t, 0, env.availability.calls)
	assert.Nil(t, env.store.updatedMembers, "member list should be kept")
	assert.Equal(t, []string{audit.ActionScheduleUpdated}, env.auditor.actions())

	calls := env.notifier.callList()
	require.Len(t, calls, 1)
	assert.Equal(t, model.NotificationUpdate, calls[0].msg.Type())
	assert.Equal(t, []string{"bob"}, calls[0].recipients)
}

func TestUpdateSchedule_DateChangeRechecksAvailability(t *testing.T) {
	env := newTestEnv()
	env.seedSchedule("s1", "2024-05-12", activeMember("bob", "Bob Jones"))
	env.availability.unavailabilities = []model.Unavailability{
		{ID: "u1", MemberID: "bob", StartDate: date("2024-05-01"), EndDate: date("2024-05-10")},
	}

	newDate := date("2024-05-05")
	_, err := UpdateSchedule(context.Background(), env.store, env.deps, "s1", ScheduleUpdate{Date: &newDate})

	var conflict *model.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"Bob Jones"}, conflict.Names)
	assert.Equal(t, date("2024-05-12"), env.store.schedules["s1"].Schedule.Date)
	assert.NotContains(t, env.store.events.list(), "store:update")
}

func TestUpdateSchedule_ReplacesMembers(t *testing.T) {
	env := newTestEnv()
	env.seedSchedule("s1", "2024-05-12", activeMember("alice", "Alice Smith"))
	env.store.addMember(activeMember("bob", "Bob Jones"))

	members := []MemberAssignment{{MemberID: "bob"}}
	result, err := UpdateSchedule(context.Background(), env.store, env.deps, "s1", ScheduleUpdate{Members: &members})
	require.NoError(t, err)

	assert.Equal(t, 1, env.availability.calls)
	require.Len(t, env.store.updatedMembers, 1)
	assert.Equal(t, "bob", env.store.updatedMembers[0].Member.ID)
	assert.Equal(t, model.ConfirmationPending, env.store.updatedMembers[0].Status)
	assert.Equal(t, []string{"bob"}, result.Aggregate.MemberIDs())
	assert.Equal(t, []bool{true}, env.store.updateRechecked)
}

func TestUpdateSchedule_FunctionsOnlyChangeSkipsAvailabilityCheck(t *testing.T) {
	env := newTestEnv()
	env.seedSchedule("s1", "2024-05-05", activeMember("bob", "Bob Jones"))
	env.store.functions["f-sound"] = model.Function{ID: "f-sound", Name: "Sound"}
	env.availability.unavailabilities = []model.Unavailability{
		{ID: "u1", MemberID: "bob", StartDate: date("2024-05-01"), EndDate: date("2024-05-10")},
	}

	members := []MemberAssignment{{MemberID: "bob", FunctionIDs: []string{"f-sound"}}}
	result, err := UpdateSchedule(context.Background(), env.store, env.deps, "s1", ScheduleUpdate{Members: &members})
	require.NoError(t, err)

	assert.Equal(t, 0, env.availability.calls)
	assert.Equal(t, []bool{false}, env.store.updateRechecked)
	require.Len(t, result.Aggregate.Members, 1)
	assert.Equal(t, []string{"Sound"}, result.Aggregate.Members[0].FunctionNames())
}

func TestUpdateSchedule_NotFound(t *testing.T) {
	env := newTestEnv()

	title := "x"
	_, err := UpdateSchedule(context.Background(), env.store, env.deps, "missing", ScheduleUpdate{Title: &title})

	var nf *model.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "schedule", nf.Entity)
}

func TestDeleteSchedule_NotifiesBeforeDeleting(t *testing.T) {
	env := newTestEnv()
	env.seedSchedule("s1", "2024-05-12", activeMember("alice", "Alice Smith"), activeMember("bob", "Bob Jones"))

	result, err := DeleteSchedule(context.Background(), env.store, env.deps, "s1", "admin-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"notify:CANCELLATION", "store:delete"}, env.store.events.list())
	assert.NotContains(t, env.store.schedules, "s1")
	assert.Equal(t, 2, result.Notifications.Sent)
	assert.Equal(t, []string{audit.ActionScheduleDeleted}, env.auditor.actions())
}

func TestDeleteSchedule_NotFound(t *testing.T) {
	env := newTestEnv()

	_, err := DeleteSchedule(context.Background(), env.store, env.deps, "missing", "admin-1")

	var nf *model.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Empty(t, env.notifier.callList())
}

func TestSameMemberSet(t *testing.T) {
	assert.True(t, sameMemberSet([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, sameMemberSet([]string{"a", "b"}, []string{"a", "c"}))
	assert.False(t, sameMemberSet([]string{"a"}, []string{"a", "b"}))
	assert.True(t, sameMemberSet(nil, []string{}))
}
