package db

import (
	"context"
	"time"

	"github.com/jakechorley/campus-rota/pkg/core/model"
)

// MemberStore defines the member operations
type MemberStore interface {
	GetMember(ctx context.Context, id string) (*model.Member, error)
	GetMembers(ctx context.Context, ids []string) ([]model.Member, error)
	ListMembers(ctx context.Context, query MemberQuery) ([]model.Member, error)
	ListAdmins(ctx context.Context) ([]model.Member, error)
	SetMemberStatus(ctx context.Context, id string, status model.MemberStatus) error
	// DeleteMember removes the member and purges their notification records in one transaction
	DeleteMember(ctx context.Context, id string) error
}

// FunctionStore defines the function and function-group operations
type FunctionStore interface {
	GetFunctions(ctx context.Context, ids []string) ([]model.Function, error)
	ListAdministeredGroups(ctx context.Context, userID string) ([]model.FunctionGroup, error)
}

// UnavailabilityStore defines the unavailability operations
type UnavailabilityStore interface {
	FindUnavailabilitiesCovering(ctx context.Context, memberIDs []string, date time.Time) ([]model.Unavailability, error)
	ListUnavailabilities(ctx context.Context, memberID string) ([]model.Unavailability, error)
	// InsertUnavailability returns *OverlapError if the member already has an overlapping interval
	InsertUnavailability(ctx context.Context, u *model.Unavailability) error
	DeleteUnavailability(ctx context.Context, id string) error
}

// ScheduleStore defines the schedule aggregate operations.
// Aggregate writes are transactional and return *UnavailableMembersError when a
// member became unavailable between the caller's check and the write.
type ScheduleStore interface {
	GetSchedule(ctx context.Context, id string) (*model.ScheduleAggregate, error)
	ListSchedulesBetween(ctx context.Context, from, to time.Time) ([]model.ScheduleAggregate, error)
	InsertScheduleAggregate(ctx context.Context, agg *model.ScheduleAggregate) error
	// UpdateScheduleAggregate updates the schedule row and, when members is non-nil,
	// replaces the full member set (function assignments cascade). Availability is re-checked
	// inside the transaction when recheck is set or the stored date differs from the new one.
	UpdateScheduleAggregate(ctx context.Context, schedule *model.Schedule, members []model.ScheduleMember, recheck bool) error
	DeleteSchedule(ctx context.Context, id string) error
	SetConfirmationStatus(ctx context.Context, scheduleID, memberID string, status model.ConfirmationStatus, at time.Time) error
}

// NotificationStore defines the notification log operations
type NotificationStore interface {
	InsertNotificationRecord(ctx context.Context, record *model.NotificationRecord) error
	// MarkNotificationRead moves a SENT record to READ; returns ErrNotFound if no SENT record matches
	MarkNotificationRead(ctx context.Context, id string) error
	ListNotificationRecords(ctx context.Context, query NotificationQuery) ([]model.NotificationRecord, error)
	CountNotifications(ctx context.Context, since time.Time) ([]NotificationCount, error)
}

// AuditStore defines the audit log operations
type AuditStore interface {
	InsertAuditLog(ctx context.Context, entry *model.AuditLogEntry) error
	QueryAuditLogs(ctx context.Context, query AuditQuery) ([]model.AuditLogEntry, int, error)
	DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Database defines the interface for all database operations.
// postgres.DB implements this interface.
type Database interface {
	MemberStore
	FunctionStore
	UnavailabilityStore
	ScheduleStore
	NotificationStore
	AuditStore
}
