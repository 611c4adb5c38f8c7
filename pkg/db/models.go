package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jakechorley/campus-rota/pkg/core/model"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("record not found")

// OverlapError is returned when a new unavailability overlaps an existing one
type OverlapError struct {
	MemberID string
	Existing model.Unavailability
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("unavailability overlaps existing interval %s (%s to %s) for member %s",
		e.Existing.ID,
		e.Existing.StartDate.Format(model.DateLayout),
		e.Existing.EndDate.Format(model.DateLayout),
		e.MemberID)
}

// UnavailableMembersError is returned by aggregate writes when the locked re-check finds blockers
type UnavailableMembersError struct {
	MemberIDs []string
}

func (e *UnavailableMembersError) Error() string {
	return fmt.Sprintf("members unavailable on schedule date: %s", strings.Join(e.MemberIDs, ", "))
}

// MemberQuery filters member listings. Zero values mean "no filter".
type MemberQuery struct {
	Campus   string
	Ministry string
	Status   model.MemberStatus
}

// NotificationQuery filters notification log listings
type NotificationQuery struct {
	MemberID   string
	ScheduleID string
	Type       model.NotificationType
	Limit      int
}

// NotificationCount is one row of the grouped notification statistics
type NotificationCount struct {
	Type    model.NotificationType
	Channel model.Channel
	Status  model.NotificationStatus
	Count   int
}

// AuditQuery filters audit log listings
type AuditQuery struct {
	Action   string
	ActorID  string
	TargetID string
	Start    *time.Time
	End      *time.Time
	FreeText string
	Limit    int
	Offset   int
}
