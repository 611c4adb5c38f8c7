package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/availability"
	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// eventLog records the order in which collaborators were called
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// mockStore is an in-memory store satisfying every store interface used by the services
type mockStore struct {
	events *eventLog

	members          map[string]model.Member
	functions        map[string]model.Function
	schedules        map[string]*model.ScheduleAggregate
	unavailabilities []model.Unavailability
	records          []model.NotificationRecord
	counts           []db.NotificationCount

	insertErr      error
	updateErr      error
	listRecordsErr error

	updatedMembers  []model.ScheduleMember
	updateRechecked []bool
	statusChanges   []model.ConfirmationStatus
	readIDs         []string
	deletedMembers  []string
	memberStatusSet map[string]model.MemberStatus
}

func newMockStore() *mockStore {
	return &mockStore{
		events:          &eventLog{},
		members:         map[string]model.Member{},
		functions:       map[string]model.Function{},
		schedules:       map[string]*model.ScheduleAggregate{},
		memberStatusSet: map[string]model.MemberStatus{},
	}
}

func (m *mockStore) addMember(member model.Member) {
	m.members[member.ID] = member
}

func (m *mockStore) GetMember(ctx context.Context, id string) (*model.Member, error) {
	member, ok := m.members[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &member, nil
}

func (m *mockStore) GetMembers(ctx context.Context, ids []string) ([]model.Member, error) {
	var result []model.Member
	for _, id := range ids {
		if member, ok := m.members[id]; ok {
			result = append(result, member)
		}
	}
	return result, nil
}

func (m *mockStore) SetMemberStatus(ctx context.Context, id string, status model.MemberStatus) error {
	member, ok := m.members[id]
	if !ok {
		return db.ErrNotFound
	}
	member.Status = status
	m.members[id] = member
	m.memberStatusSet[id] = status
	return nil
}

func (m *mockStore) DeleteMember(ctx context.Context, id string) error {
	if _, ok := m.members[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.members, id)
	m.deletedMembers = append(m.deletedMembers, id)
	return nil
}

func (m *mockStore) GetFunctions(ctx context.Context, ids []string) ([]model.Function, error) {
	var result []model.Function
	for _, id := range ids {
		if f, ok := m.functions[id]; ok {
			result = append(result, f)
		}
	}
	return result, nil
}

func (m *mockStore) GetSchedule(ctx context.Context, id string) (*model.ScheduleAggregate, error) {
	agg, ok := m.schedules[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *agg
	copied.Members = append([]model.ScheduleMember(nil), agg.Members...)
	return &copied, nil
}

func (m *mockStore) ListSchedulesBetween(ctx context.Context, from, to time.Time) ([]model.ScheduleAggregate, error) {
	var result []model.ScheduleAggregate
	for _, agg := range m.schedules {
		if !agg.Schedule.Date.Before(from) && !agg.Schedule.Date.After(to) {
			result = append(result, *agg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Schedule.ID < result[j].Schedule.ID })
	return result, nil
}

func (m *mockStore) InsertScheduleAggregate(ctx context.Context, agg *model.ScheduleAggregate) error {
	m.events.add("store:insert")
	if m.insertErr != nil {
		return m.insertErr
	}
	m.schedules[agg.Schedule.ID] = agg
	return nil
}

func (m *mockStore) UpdateScheduleAggregate(ctx context.Context, schedule *model.Schedule, members []model.ScheduleMember, recheck bool) error {
	m.events.add("store:update")
	m.updateRechecked = append(m.updateRechecked, recheck)
	if m.updateErr != nil {
		return m.updateErr
	}
	agg, ok := m.schedules[schedule.ID]
	if !ok {
		return db.ErrNotFound
	}
	agg.Schedule = *schedule
	if members != nil {
		agg.Members = members
		m.updatedMembers = members
	}
	return nil
}

func (m *mockStore) DeleteSchedule(ctx context.Context, id string) error {
	m.events.add("store:delete")
	if _, ok := m.schedules[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *mockStore) SetConfirmationStatus(ctx context.Context, scheduleID, memberID string, status model.ConfirmationStatus, at time.Time) error {
	agg, ok := m.schedules[scheduleID]
	if !ok {
		return db.ErrNotFound
	}
	sm := agg.FindMember(memberID)
	if sm == nil {
		return db.ErrNotFound
	}
	sm.Status = status
	sm.RespondedAt = &at
	m.statusChanges = append(m.statusChanges, status)
	return nil
}

func (m *mockStore) ListUnavailabilities(ctx context.Context, memberID string) ([]model.Unavailability, error) {
	var result []model.Unavailability
	for _, u := range m.unavailabilities {
		if u.MemberID == memberID {
			result = append(result, u)
		}
	}
	return result, nil
}

func (m *mockStore) InsertUnavailability(ctx context.Context, u *model.Unavailability) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.unavailabilities = append(m.unavailabilities, *u)
	return nil
}

func (m *mockStore) DeleteUnavailability(ctx context.Context, id string) error {
	for i, u := range m.unavailabilities {
		if u.ID == id {
			m.unavailabilities = append(m.unavailabilities[:i], m.unavailabilities[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *mockStore) ListNotificationRecords(ctx context.Context, query db.NotificationQuery) ([]model.NotificationRecord, error) {
	if m.listRecordsErr != nil {
		return nil, m.listRecordsErr
	}
	var result []model.NotificationRecord
	for _, r := range m.records {
		if query.ScheduleID != "" && r.ScheduleID != query.ScheduleID {
			continue
		}
		if query.Type != "" && r.Type != query.Type {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

func (m *mockStore) MarkNotificationRead(ctx context.Context, id string) error {
	for i := range m.records {
		if m.records[i].ID == id && m.records[i].Status == model.NotificationSent {
			m.records[i].Status = model.NotificationRead
			m.readIDs = append(m.readIDs, id)
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *mockStore) CountNotifications(ctx context.Context, since time.Time) ([]db.NotificationCount, error) {
	return m.counts, nil
}

// mockAvailability evaluates unavailability intervals in memory
type mockAvailability struct {
	unavailabilities []model.Unavailability
	calls            int
}

func (m *mockAvailability) FindUnavailableMembers(ctx context.Context, memberIDs []string, date time.Time) ([]string, error) {
	m.calls++
	return availability.UnavailableOn(m.unavailabilities, memberIDs, date), nil
}

type notifierCall struct {
	kind       string
	msg        notify.Message
	recipients []string
}

// mockNotifier reports every recipient as sent
type mockNotifier struct {
	mu     sync.Mutex
	events *eventLog
	calls  []notifierCall
	admins []model.Member
}

func (m *mockNotifier) record(kind string, msg notify.Message, recipients []string) notify.Counts {
	m.mu.Lock()
	m.calls = append(m.calls, notifierCall{kind: kind, msg: msg, recipients: recipients})
	m.mu.Unlock()
	if m.events != nil {
		m.events.add("notify:" + string(msg.Type()))
	}
	return notify.Counts{Attempted: len(recipients), Sent: len(recipients)}
}

func (m *mockNotifier) Dispatch(ctx context.Context, scheduleID, actorID string, msg notify.Message, recipients []notify.Recipient) notify.Counts {
	ids := make([]string, len(recipients))
	for i, r := range recipients {
		ids[i] = r.Member.ID
	}
	return m.record("dispatch", msg, ids)
}

func (m *mockNotifier) DispatchSchedule(ctx context.Context, agg *model.ScheduleAggregate, msg notify.Message, actorID string) notify.Counts {
	return m.record("schedule", msg, agg.MemberIDs())
}

func (m *mockNotifier) NotifyMember(ctx context.Context, member model.Member, msg notify.Message, actorID string) notify.Counts {
	return m.record("member", msg, []string{member.ID})
}

func (m *mockNotifier) NotifyAdmins(ctx context.Context, scheduleID string, msg notify.Message) notify.Counts {
	ids := make([]string, len(m.admins))
	for i, a := range m.admins {
		ids[i] = a.ID
	}
	return m.record("admins", msg, ids)
}

func (m *mockNotifier) callList() []notifierCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifierCall(nil), m.calls...)
}

type auditCall struct {
	action   string
	actorID  string
	targetID string
}

type mockAuditor struct {
	mu      sync.Mutex
	entries []auditCall
}

func (m *mockAuditor) Record(ctx context.Context, action, actorID, targetID, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, auditCall{action: action, actorID: actorID, targetID: targetID})
}

func (m *mockAuditor) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, len(m.entries))
	for i, e := range m.entries {
		actions[i] = e.action
	}
	return actions
}

type testEnv struct {
	store        *mockStore
	availability *mockAvailability
	notifier     *mockNotifier
	auditor      *mockAuditor
	deps         Deps
}

// newTestEnv builds services dependencies with "today" fixed at 2024-05-01
func newTestEnv() *testEnv {
	store := newMockStore()
	avail := &mockAvailability{}
	notifier := &mockNotifier{events: store.events}
	auditor := &mockAuditor{}
	logger := zap.NewNop()

	return &testEnv{
		store:        store,
		availability: avail,
		notifier:     notifier,
		auditor:      auditor,
		deps: Deps{
			Availability: avail,
			Notifier:     notifier,
			Audit:        auditor,
			Detached:     NewDetacher(logger, time.Second),
			Logger:       logger,
			Location:     time.UTC,
			Now: func() time.Time {
				return time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
			},
		},
	}
}

func date(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func activeMember(id, name string) model.Member {
	return model.Member{
		ID:     id,
		Name:   name,
		Email:  id + "@example.com",
		Phone:  "447700900000",
		Role:   model.RoleMember,
		Status: model.MemberActive,
	}
}

// seedSchedule stores a schedule on day with the given members all PENDING
func (e *testEnv) seedSchedule(id, day string, members ...model.Member) *model.ScheduleAggregate {
	agg := &model.ScheduleAggregate{
		Schedule: model.Schedule{ID: id, Title: "Sunday Service", Date: date(day), Time: "10:00", Location: "Main Hall"},
	}
	for _, member := range members {
		e.store.addMember(member)
		agg.Members = append(agg.Members, model.ScheduleMember{
			ID:         id + "-" + member.ID,
			ScheduleID: id,
			Member:     member,
			Status:     model.ConfirmationPending,
		})
	}
	e.store.schedules[id] = agg
	return agg
}
