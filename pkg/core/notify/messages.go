package notify

import (
	"fmt"
	"strings"

	"github.com/jakechorley/campus-rota/pkg/core/model"
)

// Recipient is a member to notify, with the function names they serve in (if any)
type Recipient struct {
	Member    model.Member
	Functions []string
}

// Message is one notification intent. Implementations are pure: Render depends only on the
// message and the recipient.
type Message interface {
	Type() model.NotificationType
	Subject() string
	Render(recipient Recipient) string
}

// AssignmentMessage tells a member they have been scheduled
type AssignmentMessage struct {
	Schedule model.Schedule
}

func (m AssignmentMessage) Type() model.NotificationType { return model.NotificationAssignment }

func (m AssignmentMessage) Subject() string {
	return fmt.Sprintf("You're scheduled: %s", m.Schedule.Title)
}

func (m AssignmentMessage) Render(r Recipient) string {
	var b strings.Builder
	greeting(&b, r)
	b.WriteString("You have been scheduled to serve.\n\n")
	writeScheduleDetails(&b, m.Schedule, r.Functions)
	b.WriteString("\nPlease confirm whether you can attend.")
	return b.String()
}

// UpdateMessage tells a member a schedule they are on has changed
type UpdateMessage struct {
	Schedule model.Schedule
}

func (m UpdateMessage) Type() model.NotificationType { return model.NotificationUpdate }

func (m UpdateMessage) Subject() string {
	return fmt.Sprintf("Schedule updated: %s", m.Schedule.Title)
}

func (m UpdateMessage) Render(r Recipient) string {
	var b strings.Builder
	greeting(&b, r)
	b.WriteString("A schedule you are serving on has been updated.\n\n")
	writeScheduleDetails(&b, m.Schedule, r.Functions)
	return b.String()
}

// CancellationMessage tells a member a schedule has been cancelled
type CancellationMessage struct {
	Schedule model.Schedule
}

func (m CancellationMessage) Type() model.NotificationType { return model.NotificationCancellation }

func (m CancellationMessage) Subject() string {
	return fmt.Sprintf("Schedule cancelled: %s", m.Schedule.Title)
}

func (m CancellationMessage) Render(r Recipient) string {
	var b strings.Builder
	greeting(&b, r)
	b.WriteString("The following schedule has been cancelled. You no longer need to attend.\n\n")
	writeScheduleDetails(&b, m.Schedule, r.Functions)
	return b.String()
}

// ReminderMessage reminds a member of an upcoming schedule
type ReminderMessage struct {
	Schedule model.Schedule
}

func (m ReminderMessage) Type() model.NotificationType { return model.NotificationReminder }

func (m ReminderMessage) Subject() string {
	return fmt.Sprintf("Reminder: %s", m.Schedule.Title)
}

func (m ReminderMessage) Render(r Recipient) string {
	var b strings.Builder
	greeting(&b, r)
	b.WriteString("This is a reminder that you are serving soon.\n\n")
	writeScheduleDetails(&b, m.Schedule, r.Functions)
	return b.String()
}

// CustomMessage is free text from an administrator, optionally about a schedule
type CustomMessage struct {
	Schedule *model.Schedule
	Text     string
}

func (m CustomMessage) Type() model.NotificationType { return model.NotificationCustom }

func (m CustomMessage) Subject() string {
	if m.Schedule != nil {
		return fmt.Sprintf("Message about %s", m.Schedule.Title)
	}
	return "Message from your team"
}

func (m CustomMessage) Render(r Recipient) string {
	var b strings.Builder
	greeting(&b, r)
	b.WriteString(strings.TrimSpace(m.Text))
	b.WriteString("\n")
	if m.Schedule != nil {
		b.WriteString("\n")
		writeScheduleDetails(&b, *m.Schedule, r.Functions)
	}
	return strings.TrimRight(b.String(), "\n")
}

// MemberApprovedMessage welcomes a newly approved member
type MemberApprovedMessage struct{}

func (m MemberApprovedMessage) Type() model.NotificationType { return model.NotificationMemberApproved }

func (m MemberApprovedMessage) Subject() string { return "Your registration has been approved" }

func (m MemberApprovedMessage) Render(r Recipient) string {
	var b strings.Builder
	greeting(&b, r)
	b.WriteString("Your registration has been approved. Welcome to the team!")
	return b.String()
}

// MemberRejectedMessage informs an applicant that their registration was declined
type MemberRejectedMessage struct {
	Reason string
}

func (m MemberRejectedMessage) Type() model.NotificationType { return model.NotificationMemberRejected }

func (m MemberRejectedMessage) Subject() string { return "Your registration was not approved" }

func (m MemberRejectedMessage) Render(r Recipient) string {
	var b strings.Builder
	greeting(&b, r)
	b.WriteString("Unfortunately your registration was not approved.")
	if reason := strings.TrimSpace(m.Reason); reason != "" {
		b.WriteString("\nReason: ")
		b.WriteString(reason)
	}
	return b.String()
}

// ConfirmationMessage acknowledges a member's response to administrators
type ConfirmationMessage struct {
	Schedule  model.Schedule
	Responder model.Member
	Status    model.ConfirmationStatus
}

func (m ConfirmationMessage) Type() model.NotificationType { return model.NotificationConfirmation }

func (m ConfirmationMessage) Subject() string {
	return fmt.Sprintf("%s responded for %s", m.Responder.Name, m.Schedule.Title)
}

func (m ConfirmationMessage) Render(r Recipient) string {
	var b strings.Builder
	greeting(&b, r)
	switch m.Status {
	case model.ConfirmationConfirmed:
		fmt.Fprintf(&b, "%s has confirmed they will attend.\n\n", m.Responder.Name)
	case model.ConfirmationUnavailable:
		fmt.Fprintf(&b, "%s is unavailable and will not attend.\n\n", m.Responder.Name)
	default:
		fmt.Fprintf(&b, "%s has responded (%s).\n\n", m.Responder.Name, m.Status)
	}
	writeScheduleDetails(&b, m.Schedule, nil)
	return b.String()
}

func greeting(b *strings.Builder, r Recipient) {
	name := strings.TrimSpace(r.Member.Name)
	if name == "" {
		b.WriteString("Hello,\n\n")
		return
	}
	if first := strings.Fields(name); len(first) > 0 {
		name = first[0]
	}
	fmt.Fprintf(b, "Hello %s,\n\n", name)
}

// writeScheduleDetails writes the schedule block. The function line is omitted when there are none.
func writeScheduleDetails(b *strings.Builder, s model.Schedule, functions []string) {
	b.WriteString(s.Title)
	b.WriteString("\n")
	if desc := strings.TrimSpace(s.Description); desc != "" {
		b.WriteString(desc)
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "Date: %s\n", s.Date.Format("Monday, 2 January 2006"))
	if s.Time != "" {
		fmt.Fprintf(b, "Time: %s\n", s.Time)
	}
	if s.Location != "" {
		fmt.Fprintf(b, "Location: %s\n", s.Location)
	}
	if len(functions) > 0 {
		fmt.Fprintf(b, "Function: %s\n", strings.Join(functions, ", "))
	}
}
