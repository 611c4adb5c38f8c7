package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/clients/channelclient"
	"github.com/jakechorley/campus-rota/pkg/core/audit"
	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

var (
	// ErrChannelUnavailable is the skip reason when the channel was not connected at the last poll
	ErrChannelUnavailable = errors.New("messaging channel unavailable")

	// ErrNoContactHandle is the skip reason when a recipient has no usable phone number
	ErrNoContactHandle = errors.New("recipient has no contact handle")
)

const skippedPrefix = "skipped: "

type outcome int

const (
	outcomeSent outcome = iota
	outcomeQueued
	outcomeSkipped
	outcomeFailed
)

// Channel is the messaging channel as seen by the dispatcher.
// channelclient.Client implements this interface.
type Channel interface {
	IsUsable() bool
	Send(ctx context.Context, handle, body string) error
}

// EmailQueue enqueues an email for delivery by a background worker
type EmailQueue interface {
	EnqueueEmail(ctx context.Context, to, subject, body string) error
}

// Auditor records dispatch outcomes. audit.Trail implements this interface.
type Auditor interface {
	Record(ctx context.Context, action, actorID, targetID, description string)
}

// Store defines the database operations needed by the dispatcher
type Store interface {
	GetSchedule(ctx context.Context, id string) (*model.ScheduleAggregate, error)
	ListAdmins(ctx context.Context) ([]model.Member, error)
	InsertNotificationRecord(ctx context.Context, record *model.NotificationRecord) error
}

// Counts summarises a dispatch. Attempted = Sent + Failed + Skipped + Queued.
type Counts struct {
	Attempted int
	Sent      int
	Failed    int
	Skipped   int
	Queued    int
}

func (c Counts) String() string {
	return fmt.Sprintf("attempted=%d sent=%d failed=%d skipped=%d queued=%d",
		c.Attempted, c.Sent, c.Failed, c.Skipped, c.Queued)
}

// Add merges another dispatch's counts into c
func (c *Counts) Add(other Counts) {
	c.Attempted += other.Attempted
	c.Sent += other.Sent
	c.Failed += other.Failed
	c.Skipped += other.Skipped
	c.Queued += other.Queued
}

// Dispatcher fans notifications out to recipients and records every outcome.
// A failure for one recipient never stops delivery to the others.
type Dispatcher struct {
	channel Channel
	store   Store
	auditor Auditor
	emails  EmailQueue
	logger  *zap.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. A nil emails queue disables the email fallback.
func NewDispatcher(channel Channel, store Store, auditor Auditor, emails EmailQueue, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		channel: channel,
		store:   store,
		auditor: auditor,
		emails:  emails,
		logger:  logger,
		now:     time.Now,
	}
}

// ScheduleRecipients returns every member of the schedule with their function names.
// If include is non-nil only members it accepts are returned.
func ScheduleRecipients(agg *model.ScheduleAggregate, include func(model.ScheduleMember) bool) []Recipient {
	recipients := make([]Recipient, 0, len(agg.Members))
	for _, sm := range agg.Members {
		if include != nil && !include(sm) {
			continue
		}
		recipients = append(recipients, Recipient{Member: sm.Member, Functions: sm.FunctionNames()})
	}
	return recipients
}

// DispatchSchedule notifies every member of an already-loaded schedule
func (d *Dispatcher) DispatchSchedule(ctx context.Context, agg *model.ScheduleAggregate, msg Message, actorID string) Counts {
	return d.Dispatch(ctx, agg.Schedule.ID, actorID, msg, ScheduleRecipients(agg, nil))
}

// DispatchScheduleByID loads the schedule and notifies its members. Loading the schedule is the
// only failure returned; per-recipient outcomes are reported in the counts.
func (d *Dispatcher) DispatchScheduleByID(ctx context.Context, scheduleID string, build func(model.Schedule) Message, actorID string) (Counts, error) {
	agg, err := d.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return Counts{}, &model.NotFoundError{Entity: "schedule", ID: scheduleID}
		}
		return Counts{}, fmt.Errorf("failed to load schedule: %w", err)
	}
	return d.DispatchSchedule(ctx, agg, build(agg.Schedule), actorID), nil
}

// NotifyMember sends msg to a single member
func (d *Dispatcher) NotifyMember(ctx context.Context, member model.Member, msg Message, actorID string) Counts {
	return d.Dispatch(ctx, "", actorID, msg, []Recipient{{Member: member}})
}

// NotifyAdmins sends msg to every administrator. Failure to list administrators is logged and
// yields empty counts.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, scheduleID string, msg Message) Counts {
	admins, err := d.store.ListAdmins(ctx)
	if err != nil {
		d.logger.Error("Failed to list administrators for notification",
			zap.String("type", string(msg.Type())),
			zap.Error(err))
		return Counts{}
	}

	recipients := make([]Recipient, len(admins))
	for i, admin := range admins {
		recipients[i] = Recipient{Member: admin}
	}
	return d.Dispatch(ctx, scheduleID, "", msg, recipients)
}

// Dispatch renders and delivers msg to each recipient independently and writes one notification
// record per recipient. It never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, scheduleID, actorID string, msg Message, recipients []Recipient) Counts {
	var counts Counts
	usable := d.channel.IsUsable()

	d.logger.Info("Dispatching notifications",
		zap.String("type", string(msg.Type())),
		zap.String("schedule_id", scheduleID),
		zap.Int("recipients", len(recipients)),
		zap.Bool("channel_usable", usable))

	for _, recipient := range recipients {
		counts.Attempted++
		record, result := d.deliver(ctx, scheduleID, msg, recipient, usable)

		switch result {
		case outcomeSent:
			counts.Sent++
		case outcomeQueued:
			counts.Queued++
		case outcomeSkipped:
			counts.Skipped++
		default:
			counts.Failed++
		}

		if err := d.store.InsertNotificationRecord(ctx, record); err != nil {
			d.logger.Error("Failed to record notification",
				zap.String("member_id", recipient.Member.ID),
				zap.String("status", string(record.Status)),
				zap.Error(err))
		}
	}

	d.logger.Info("Dispatch completed",
		zap.String("type", string(msg.Type())),
		zap.String("schedule_id", scheduleID),
		zap.Int("attempted", counts.Attempted),
		zap.Int("sent", counts.Sent),
		zap.Int("failed", counts.Failed),
		zap.Int("skipped", counts.Skipped),
		zap.Int("queued", counts.Queued))

	if d.auditor != nil && len(recipients) > 0 {
		d.auditor.Record(ctx, audit.ActionNotificationDispatched, actorID, scheduleID,
			fmt.Sprintf("%s notification: %s", msg.Type(), counts))
	}

	return counts
}

// deliver attempts one recipient and returns the record describing the outcome
func (d *Dispatcher) deliver(ctx context.Context, scheduleID string, msg Message, recipient Recipient, usable bool) (*model.NotificationRecord, outcome) {
	member := recipient.Member
	body := msg.Render(recipient)
	record := &model.NotificationRecord{
		ID:         uuid.New().String(),
		MemberID:   member.ID,
		ScheduleID: scheduleID,
		Type:       msg.Type(),
		Channel:    model.ChannelWhatsApp,
		Message:    body,
		CreatedAt:  d.now().UTC(),
	}

	handle := channelclient.NormalizePhone(member.Phone)
	var skipReason error
	switch {
	case handle == "":
		skipReason = ErrNoContactHandle
	case !usable:
		skipReason = ErrChannelUnavailable
	}

	if skipReason != nil {
		if d.emails != nil && member.Email != "" {
			return d.enqueueEmail(ctx, record, msg, member, skipReason)
		}
		d.logger.Info("Skipping notification",
			zap.String("member_id", member.ID),
			zap.String("reason", skipReason.Error()))
		record.Status = model.NotificationFailed
		record.ErrorMessage = skippedPrefix + skipReason.Error()
		return record, outcomeSkipped
	}

	if err := d.channel.Send(ctx, handle, body); err != nil {
		d.logger.Warn("Failed to send notification",
			zap.String("member_id", member.ID),
			zap.String("type", string(msg.Type())),
			zap.Error(err))
		record.Status = model.NotificationFailed
		record.ErrorMessage = err.Error()
		return record, outcomeFailed
	}

	d.logger.Debug("Notification sent", zap.String("member_id", member.ID))
	record.Status = model.NotificationSent
	return record, outcomeSent
}

func (d *Dispatcher) enqueueEmail(ctx context.Context, record *model.NotificationRecord, msg Message, member model.Member, reason error) (*model.NotificationRecord, outcome) {
	record.Channel = model.ChannelEmail

	if err := d.emails.EnqueueEmail(ctx, member.Email, msg.Subject(), record.Message); err != nil {
		d.logger.Warn("Failed to enqueue fallback email",
			zap.String("member_id", member.ID),
			zap.Error(err))
		record.Status = model.NotificationFailed
		record.ErrorMessage = fmt.Sprintf("email fallback failed: %v", err)
		return record, outcomeFailed
	}

	d.logger.Info("Queued fallback email",
		zap.String("member_id", member.ID),
		zap.String("reason", reason.Error()))
	record.Status = model.NotificationSent
	return record, outcomeQueued
}
