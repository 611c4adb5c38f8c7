package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
)

// AvailabilityChecker reports which members are unavailable on a date.
// availability.Index implements this interface.
type AvailabilityChecker interface {
	FindUnavailableMembers(ctx context.Context, memberIDs []string, date time.Time) ([]string, error)
}

// Notifier dispatches notifications. notify.Dispatcher implements this interface.
type Notifier interface {
	Dispatch(ctx context.Context, scheduleID, actorID string, msg notify.Message, recipients []notify.Recipient) notify.Counts
	DispatchSchedule(ctx context.Context, agg *model.ScheduleAggregate, msg notify.Message, actorID string) notify.Counts
	NotifyMember(ctx context.Context, member model.Member, msg notify.Message, actorID string) notify.Counts
	NotifyAdmins(ctx context.Context, scheduleID string, msg notify.Message) notify.Counts
}

// Auditor records audit entries. audit.Trail implements this interface.
type Auditor interface {
	Record(ctx context.Context, action, actorID, targetID, description string)
}

// Deps bundles the collaborators shared by the service operations
type Deps struct {
	Availability AvailabilityChecker
	Notifier     Notifier
	Audit        Auditor
	Detached     *Detacher
	Logger       *zap.Logger

	// Location decides what "today" is when checking whether a schedule is in the past
	Location *time.Location
	Now      func() time.Time
}

func (d Deps) today() time.Time {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return model.TruncateDate(now().In(loc))
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

const defaultDetachedTimeout = 2 * time.Minute

// Detacher runs work that nobody waits for. Each task gets a context that outlives the caller's
// and its outcome is only logged. Wait exists so a process can drain tasks before exiting.
type Detacher struct {
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDetacher creates a detacher. A zero timeout uses two minutes.
func NewDetacher(logger *zap.Logger, timeout time.Duration) *Detacher {
	if timeout <= 0 {
		timeout = defaultDetachedTimeout
	}
	return &Detacher{logger: logger, timeout: timeout}
}

// Go starts fn in the background and returns immediately
func (d *Detacher) Go(parent context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Detached task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()

		start := time.Now()
		if err := fn(ctx); err != nil {
			d.logger.Warn("Detached task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return
		}
		d.logger.Debug("Detached task completed",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(start)))
	}()
}

// Wait blocks until every started task has finished
func (d *Detacher) Wait() {
	d.wg.Wait()
}
