package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/audit"
	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// ScheduleStore defines the database operations needed for the schedule lifecycle
type ScheduleStore interface {
	GetSchedule(ctx context.Context, id string) (*model.ScheduleAggregate, error)
	GetMembers(ctx context.Context, ids []string) ([]model.Member, error)
	GetFunctions(ctx context.Context, ids []string) ([]model.Function, error)
	InsertScheduleAggregate(ctx context.Context, agg *model.ScheduleAggregate) error
	UpdateScheduleAggregate(ctx context.Context, schedule *model.Schedule, members []model.ScheduleMember, recheck bool) error
	DeleteSchedule(ctx context.Context, id string) error
}

// MemberAssignment proposes a member for a schedule with the functions they will serve in
type MemberAssignment struct {
	MemberID    string
	FunctionIDs []string
}

// ScheduleInput describes a schedule to create
type ScheduleInput struct {
	Title       string
	Description string
	Date        time.Time
	Time        string // HH:MM
	Location    string
	Members     []MemberAssignment
	ActorID     string
}

// ScheduleUpdate is a partial update. Nil fields are left unchanged; a non-nil Members replaces
// the full member list.
type ScheduleUpdate struct {
	Title       *string
	Description *string
	Date        *time.Time
	Time        *string
	Location    *string
	Members     *[]MemberAssignment
	ActorID     string
}

// ScheduleResult is the outcome of a schedule mutation
type ScheduleResult struct {
	Aggregate     *model.ScheduleAggregate
	Notifications notify.Counts
}

// CreateSchedule validates and persists a schedule with its member assignments, then notifies the members.
// Nothing is persisted if any proposed member is unavailable on the schedule date.
func CreateSchedule(ctx context.Context, store ScheduleStore, deps Deps, input ScheduleInput) (*ScheduleResult, error) {
	logger := deps.Logger
	logger.Info("Creating schedule",
		zap.String("title", input.Title),
		zap.String("date", input.Date.Format(model.DateLayout)),
		zap.Int("members", len(input.Members)))

	schedule := model.Schedule{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Date:        model.TruncateDate(input.Date),
		Time:        strings.TrimSpace(input.Time),
		Location:    strings.TrimSpace(input.Location),
	}
	if err := validateSchedule(schedule); err != nil {
		return nil, err
	}

	// Step 1: Resolve members and functions
	members, err := resolveAssignments(ctx, store, schedule.ID, input.Members)
	if err != nil {
		return nil, err
	}

	// Step 2: Check availability on the schedule date
	if err := checkAvailability(ctx, deps.Availability, members, schedule.Date); err != nil {
		return nil, err
	}

	// Step 3: Persist in one transaction
	now := deps.now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	agg := &model.ScheduleAggregate{Schedule: schedule, Members: members}

	if err := store.InsertScheduleAggregate(ctx, agg); err != nil {
		return nil, translateWriteError(err, members, schedule.Date)
	}
	logger.Info("Schedule created", zap.String("schedule_id", schedule.ID))

	deps.Audit.Record(ctx, audit.ActionScheduleCreated, input.ActorID, schedule.ID,
		fmt.Sprintf("Created schedule %q on %s with %d members", schedule.Title, schedule.Date.Format(model.DateLayout), len(members)))

	// Step 4: Notify members; outcomes never affect the created schedule
	counts := deps.Notifier.DispatchSchedule(ctx, agg, notify.AssignmentMessage{Schedule: schedule}, input.ActorID)

	return &ScheduleResult{Aggregate: agg, Notifications: counts}, nil
}

// UpdateSchedule applies a partial update and notifies the (new) members.
// Availability is re-checked only when the date or the member list changes.
func UpdateSchedule(ctx context.Context, store ScheduleStore, deps Deps, id string, update ScheduleUpdate) (*ScheduleResult, error) {
	logger := deps.Logger
	logger.Info("Updating schedule", zap.String("schedule_id", id))

	existing, err := loadSchedule(ctx, store, id)
	if err != nil {
		return nil, err
	}

	schedule := existing.Schedule
	if update.Title != nil {
		schedule.Title = strings.TrimSpace(*update.Title)
	}
	if update.Description != nil {
		schedule.Description = strings.TrimSpace(*update.Description)
	}
	if update.Date != nil {
		schedule.Date = model.TruncateDate(*update.Date)
	}
	if update.Time != nil {
		schedule.Time = strings.TrimSpace(*update.Time)
	}
	if update.Location != nil {
		schedule.Location = strings.TrimSpace(*update.Location)
	}
	if err := validateSchedule(schedule); err != nil {
		return nil, err
	}

	dateChanged := !schedule.Date.Equal(existing.Schedule.Date)
	members := existing.Members
	var replacement []model.ScheduleMember
	membersChanged := false

	if update.Members != nil {
		replacement, err = resolveAssignments(ctx, store, schedule.ID, *update.Members)
		if err != nil {
			return nil, err
		}
		membersChanged = !sameMemberSet(existing.MemberIDs(), memberIDsOf(replacement))
		members = replacement
	}

	if dateChanged || membersChanged {
		logger.Debug("Re-checking availability",
			zap.Bool("date_changed", dateChanged),
			zap.Bool("members_changed", membersChanged))
		if err := checkAvailability(ctx, deps.Availability, members, schedule.Date); err != nil {
			return nil, err
		}
	}

	schedule.UpdatedAt = deps.now().UTC()
	if err := store.UpdateScheduleAggregate(ctx, &schedule, replacement, dateChanged || membersChanged); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &model.NotFoundError{Entity: "schedule", ID: id}
		}
		return nil, translateWriteError(err, members, schedule.Date)
	}
	logger.Info("Schedule updated", zap.String("schedule_id", id))

	agg := &model.ScheduleAggregate{Schedule: schedule, Members: members}
	deps.Audit.Record(ctx, audit.ActionScheduleUpdated, update.ActorID, id,
		describeUpdate(existing.Schedule, schedule, update.Members != nil, len(members)))

	counts := deps.Notifier.DispatchSchedule(ctx, agg, notify.UpdateMessage{Schedule: schedule}, update.ActorID)

	return &ScheduleResult{Aggregate: agg, Notifications: counts}, nil
}

// DeleteSchedule notifies members of the cancellation and then removes the schedule.
// The notification goes out first because it needs the member and location data.
func DeleteSchedule(ctx context.Context, store ScheduleStore, deps Deps, id, actorID string) (*ScheduleResult, error) {
	logger := deps.Logger
	logger.Info("Deleting schedule", zap.String("schedule_id", id))

	agg, err := loadSchedule(ctx, store, id)
	if err != nil {
		return nil, err
	}

	counts := deps.Notifier.DispatchSchedule(ctx, agg, notify.CancellationMessage{Schedule: agg.Schedule}, actorID)

	if err := store.DeleteSchedule(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &model.NotFoundError{Entity: "schedule", ID: id}
		}
		return nil, fmt.Errorf("failed to delete schedule: %w", err)
	}
	logger.Info("Schedule deleted", zap.String("schedule_id", id))

	deps.Audit.Record(ctx, audit.ActionScheduleDeleted, actorID, id,
		fmt.Sprintf("Deleted schedule %q on %s", agg.Schedule.Title, agg.Schedule.Date.Format(model.DateLayout)))

	return &ScheduleResult{Aggregate: agg, Notifications: counts}, nil
}

type scheduleGetter interface {
	GetSchedule(ctx context.Context, id string) (*model.ScheduleAggregate, error)
}

func loadSchedule(ctx context.Context, store scheduleGetter, id string) (*model.ScheduleAggregate, error) {
	agg, err := store.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &model.NotFoundError{Entity: "schedule", ID: id}
		}
		return nil, fmt.Errorf("failed to fetch schedule: %w", err)
	}
	return agg, nil
}

func validateSchedule(s model.Schedule) error {
	if s.Title == "" {
		return &model.ValidationError{Field: "title", Message: "is required"}
	}
	if s.Date.IsZero() {
		return &model.ValidationError{Field: "date", Message: "is required"}
	}
	if s.Time == "" {
		return &model.ValidationError{Field: "time", Message: "is required"}
	}
	if _, err := time.Parse(model.TimeLayout, s.Time); err != nil {
		return &model.ValidationError{Field: "time", Message: fmt.Sprintf("must be HH:MM, got %q", s.Time)}
	}
	return nil
}

// resolveAssignments checks every proposed member exists and is active and every function exists,
// and builds the PENDING schedule members
func resolveAssignments(ctx context.Context, store ScheduleStore, scheduleID string, assignments []MemberAssignment) ([]model.ScheduleMember, error) {
	ids := make([]string, 0, len(assignments))
	seen := make(map[string]bool, len(assignments))
	var duplicates []string
	var functionIDs []string

	for _, a := range assignments {
		if a.MemberID == "" {
			return nil, &model.ValidationError{Field: "members", Message: "member id is required"}
		}
		if seen[a.MemberID] {
			duplicates = append(duplicates, a.MemberID)
			continue
		}
		seen[a.MemberID] = true
		ids = append(ids, a.MemberID)
		functionIDs = append(functionIDs, a.FunctionIDs...)
	}
	if len(duplicates) > 0 {
		return nil, &model.ConflictError{Reason: "members listed more than once", Names: duplicates}
	}
	if len(ids) == 0 {
		return []model.ScheduleMember{}, nil
	}

	found, err := store.GetMembers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members: %w", err)
	}
	membersByID := make(map[string]model.Member, len(found))
	for _, m := range found {
		membersByID[m.ID] = m
	}

	functionsByID := make(map[string]model.Function)
	if len(functionIDs) > 0 {
		functions, err := store.GetFunctions(ctx, uniqueStrings(functionIDs))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch functions: %w", err)
		}
		for _, f := range functions {
			functionsByID[f.ID] = f
		}
	}

	result := make([]model.ScheduleMember, 0, len(ids))
	for _, a := range assignments {
		member, ok := membersByID[a.MemberID]
		if !ok {
			return nil, &model.NotFoundError{Entity: "member", ID: a.MemberID}
		}
		if member.Status != model.MemberActive {
			return nil, &model.ValidationError{
				Field:   "members",
				Message: fmt.Sprintf("member %s is not active (%s)", member.Name, member.Status),
			}
		}

		sm := model.ScheduleMember{
			ID:         uuid.New().String(),
			ScheduleID: scheduleID,
			Member:     member,
			Status:     model.ConfirmationPending,
			Functions:  make([]model.Function, 0, len(a.FunctionIDs)),
		}
		for _, fid := range uniqueStrings(a.FunctionIDs) {
			f, ok := functionsByID[fid]
			if !ok {
				return nil, &model.NotFoundError{Entity: "function", ID: fid}
			}
			sm.Functions = append(sm.Functions, f)
		}
		result = append(result, sm)
	}

	return result, nil
}

// checkAvailability rejects the operation, naming the blockers, if any member is unavailable on date
func checkAvailability(ctx context.Context, checker AvailabilityChecker, members []model.ScheduleMember, date time.Time) error {
	if len(members) == 0 {
		return nil
	}
	unavailable, err := checker.FindUnavailableMembers(ctx, memberIDsOf(members), date)
	if err != nil {
		return fmt.Errorf("failed to check availability: %w", err)
	}
	if len(unavailable) > 0 {
		return unavailableConflict(members, unavailable, date)
	}
	return nil
}

// translateWriteError maps the store's locked re-check failure onto a ConflictError
func translateWriteError(err error, members []model.ScheduleMember, date time.Time) error {
	var unavailableErr *db.UnavailableMembersError
	if errors.As(err, &unavailableErr) {
		return unavailableConflict(members, unavailableErr.MemberIDs, date)
	}
	return fmt.Errorf("failed to save schedule: %w", err)
}

func unavailableConflict(members []model.ScheduleMember, unavailableIDs []string, date time.Time) error {
	names := make([]string, 0, len(unavailableIDs))
	for _, id := range unavailableIDs {
		name := id
		for _, sm := range members {
			if sm.Member.ID == id {
				name = sm.Member.Name
				break
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &model.ConflictError{
		Reason: fmt.Sprintf("members unavailable on %s", date.Format(model.DateLayout)),
		Names:  names,
	}
}

func describeUpdate(before, after model.Schedule, membersReplaced bool, memberCount int) string {
	var changes []string
	if before.Title != after.Title {
		changes = append(changes, "title")
	}
	if before.Description != after.Description {
		changes = append(changes, "description")
	}
	if !before.Date.Equal(after.Date) {
		changes = append(changes, fmt.Sprintf("date %s -> %s", before.Date.Format(model.DateLayout), after.Date.Format(model.DateLayout)))
	}
	if before.Time != after.Time {
		changes = append(changes, fmt.Sprintf("time %s -> %s", before.Time, after.Time))
	}
	if before.Location != after.Location {
		changes = append(changes, "location")
	}
	if membersReplaced {
		changes = append(changes, fmt.Sprintf("members replaced (%d)", memberCount))
	}
	if len(changes) == 0 {
		return fmt.Sprintf("Updated schedule %q (no field changes)", after.Title)
	}
	return fmt.Sprintf("Updated schedule %q: %s", after.Title, strings.Join(changes, "; "))
}

func memberIDsOf(members []model.ScheduleMember) []string {
	ids := make([]string, len(members))
	for i, sm := range members {
		ids[i] = sm.Member.ID
	}
	return ids
}

func sameMemberSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	return result
}
