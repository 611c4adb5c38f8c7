package model

import "time"

// DateLayout is the calendar date format used across the store, config and CLI
const DateLayout = "2006-01-02"

// TimeLayout is the time-of-day format for schedules
const TimeLayout = "15:04"

type ConfirmationStatus string

const (
	ConfirmationPending     ConfirmationStatus = "PENDING"
	ConfirmationConfirmed   ConfirmationStatus = "CONFIRMED"
	ConfirmationUnavailable ConfirmationStatus = "UNAVAILABLE"
)

// IsTerminal reports whether the member has already answered
func (s ConfirmationStatus) IsTerminal() bool {
	return s == ConfirmationConfirmed || s == ConfirmationUnavailable
}

type MemberStatus string

const (
	MemberPending  MemberStatus = "PENDING"
	MemberActive   MemberStatus = "ACTIVE"
	MemberRejected MemberStatus = "REJECTED"
	MemberInactive MemberStatus = "INACTIVE"
)

// Role is the administrative role of a member account
type Role string

const (
	RoleMember      Role = "member"
	RoleGroupAdmin  Role = "groupAdmin"
	RoleGlobalAdmin Role = "admin"
)

func (r Role) IsValid() bool {
	return r == RoleMember || r == RoleGroupAdmin || r == RoleGlobalAdmin
}

func (r Role) IsAdmin() bool {
	return r == RoleGroupAdmin || r == RoleGlobalAdmin
}

type NotificationType string

const (
	NotificationAssignment     NotificationType = "ASSIGNMENT"
	NotificationUpdate         NotificationType = "UPDATE"
	NotificationCancellation   NotificationType = "CANCELLATION"
	NotificationReminder       NotificationType = "REMINDER"
	NotificationMemberApproved NotificationType = "MEMBER_APPROVED"
	NotificationMemberRejected NotificationType = "MEMBER_REJECTED"
	NotificationConfirmation   NotificationType = "CONFIRMATION"
	NotificationCustom         NotificationType = "CUSTOM"
)

type Channel string

const (
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelEmail    Channel = "EMAIL"
)

// DeliveryGuarantee describes what happens to a message in flight when the process dies.
// Direct channel sends are never retried; queued email jobs are redelivered by the broker.
type DeliveryGuarantee string

const (
	AtMostOnce  DeliveryGuarantee = "at-most-once"
	AtLeastOnce DeliveryGuarantee = "at-least-once"
)

func (c Channel) DeliveryGuarantee() DeliveryGuarantee {
	if c == ChannelEmail {
		return AtLeastOnce
	}
	return AtMostOnce
}

type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "SENT"
	NotificationFailed NotificationStatus = "FAILED"
	NotificationRead   NotificationStatus = "READ"
)

// Member represents a volunteer (or administrator) of the organization
type Member struct {
	ID       string
	Name     string
	Email    string
	Phone    string // Empty string if no phone registered
	Campus   string
	Ministry string
	Role     Role
	Status   MemberStatus
}

// Schedule represents a dated service event
type Schedule struct {
	ID          string
	Title       string
	Description string
	Date        time.Time // Calendar date, midnight UTC
	Time        string    // HH:MM
	Location    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ScheduleMember is a member's assignment to a schedule
type ScheduleMember struct {
	ID          string
	ScheduleID  string
	Member      Member
	Status      ConfirmationStatus
	Functions   []Function
	RespondedAt *time.Time
}

// FunctionNames returns the assigned function names in assignment order
func (sm ScheduleMember) FunctionNames() []string {
	names := make([]string, 0, len(sm.Functions))
	for _, f := range sm.Functions {
		names = append(names, f.Name)
	}
	return names
}

// Function is a serving role, e.g. "Lighting"
type Function struct {
	ID      string
	Name    string
	GroupID string
}

// FunctionGroup groups functions under a ministry-aligned name
type FunctionGroup struct {
	ID   string
	Name string
}

// ScheduleAggregate is a schedule with its member assignments
type ScheduleAggregate struct {
	Schedule Schedule
	Members  []ScheduleMember
}

// MemberIDs returns the ids of all assigned members
func (a *ScheduleAggregate) MemberIDs() []string {
	ids := make([]string, len(a.Members))
	for i, m := range a.Members {
		ids[i] = m.Member.ID
	}
	return ids
}

// FindMember returns the assignment for a member, or nil
func (a *ScheduleAggregate) FindMember(memberID string) *ScheduleMember {
	for i := range a.Members {
		if a.Members[i].Member.ID == memberID {
			return &a.Members[i]
		}
	}
	return nil
}

// Unavailability is a closed date interval during which a member cannot serve
type Unavailability struct {
	ID        string
	MemberID  string
	StartDate time.Time
	EndDate   time.Time
	Reason    string
}

// Covers reports whether the interval contains date, inclusive at both ends
func (u Unavailability) Covers(date time.Time) bool {
	d := TruncateDate(date)
	return !d.Before(TruncateDate(u.StartDate)) && !d.After(TruncateDate(u.EndDate))
}

// Overlaps reports whether two closed intervals share at least one day
func (u Unavailability) Overlaps(other Unavailability) bool {
	return !TruncateDate(u.StartDate).After(TruncateDate(other.EndDate)) &&
		!TruncateDate(other.StartDate).After(TruncateDate(u.EndDate))
}

// NotificationRecord is one delivery attempt to one recipient
type NotificationRecord struct {
	ID           string
	MemberID     string
	ScheduleID   string // Empty string when not tied to a schedule
	Type         NotificationType
	Channel      Channel
	Status       NotificationStatus
	Message      string
	ErrorMessage string
	CreatedAt    time.Time
}

// AuditLogEntry is an append-only record of an administrative or notification action
type AuditLogEntry struct {
	ID          string
	Action      string
	ActorID     string // Empty string for system actions
	TargetID    string
	Description string
	CreatedAt   time.Time
}

// TruncateDate strips the time of day, keeping the calendar date in UTC
func TruncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
