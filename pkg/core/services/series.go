package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
)

// MaxSeriesOccurrences bounds how many schedules one series request may create
const MaxSeriesOccurrences = 104

// SeriesConflict is an occurrence that was skipped because members were unavailable
type SeriesConflict struct {
	Date  time.Time
	Names []string
}

// SeriesResult is the outcome of creating a schedule series
type SeriesResult struct {
	Created       []*model.ScheduleAggregate
	Conflicts     []SeriesConflict
	Notifications notify.Counts
}

// CreateScheduleSeries creates one schedule per occurrence of an RRULE (e.g. "FREQ=WEEKLY;BYDAY=SU"),
// starting at input.Date and ending on until (inclusive) or after the rule's COUNT when until is zero. Occurrences with unavailable members are
// skipped and reported; the remaining occurrences are created as with CreateSchedule.
func CreateScheduleSeries(ctx context.Context, store ScheduleStore, deps Deps, input ScheduleInput, rule string, until time.Time) (*SeriesResult, error) {
	logger := deps.Logger
	logger.Info("Creating schedule series",
		zap.String("title", input.Title),
		zap.String("rrule", rule),
		zap.String("start", input.Date.Format(model.DateLayout)),
		zap.String("until", until.Format(model.DateLayout)))

	dates, err := seriesDates(rule, input.Date, until)
	if err != nil {
		return nil, err
	}
	logger.Debug("Expanded series", zap.Int("occurrences", len(dates)))

	result := &SeriesResult{
		Created:   []*model.ScheduleAggregate{},
		Conflicts: []SeriesConflict{},
	}

	for _, date := range dates {
		occurrence := input
		occurrence.Date = date

		created, err := CreateSchedule(ctx, store, deps, occurrence)
		if err != nil {
			var conflict *model.ConflictError
			if errors.As(err, &conflict) {
				logger.Info("Skipping occurrence with unavailable members",
					zap.String("date", date.Format(model.DateLayout)),
					zap.Strings("members", conflict.Names))
				result.Conflicts = append(result.Conflicts, SeriesConflict{Date: date, Names: conflict.Names})
				continue
			}
			return result, fmt.Errorf("failed to create occurrence on %s: %w", date.Format(model.DateLayout), err)
		}

		result.Created = append(result.Created, created.Aggregate)
		result.Notifications.Add(created.Notifications)
	}

	logger.Info("Schedule series created",
		zap.Int("created", len(result.Created)),
		zap.Int("conflicts", len(result.Conflicts)))

	return result, nil
}

// seriesDates expands rule from start. A zero until requires the rule to carry a COUNT;
// otherwise occurrences run to until, inclusive.
func seriesDates(rule string, start, until time.Time) ([]time.Time, error) {
	start = model.TruncateDate(start)
	if start.IsZero() {
		return nil, &model.ValidationError{Field: "date", Message: "is required"}
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, &model.ValidationError{Field: "rrule", Message: err.Error()}
	}
	r.DTStart(start)

	var occurrences []time.Time
	if until.IsZero() {
		count := r.OrigOptions.Count
		if count <= 0 && r.OrigOptions.Until.IsZero() {
			return nil, &model.ValidationError{Field: "until", Message: "is required when the rule has no COUNT or UNTIL"}
		}
		if count > MaxSeriesOccurrences {
			return nil, tooManyOccurrences(count)
		}
		occurrences = r.Between(start, start.AddDate(10, 0, 0), true)
	} else {
		until = model.TruncateDate(until)
		if until.Before(start) {
			return nil, &model.ValidationError{Field: "until", Message: "must not be before the start date"}
		}
		occurrences = r.Between(start, until, true)
	}

	if len(occurrences) == 0 {
		return nil, &model.ValidationError{Field: "rrule", Message: "produces no dates in range"}
	}
	if len(occurrences) > MaxSeriesOccurrences {
		return nil, tooManyOccurrences(len(occurrences))
	}

	dates := make([]time.Time, len(occurrences))
	for i, o := range occurrences {
		dates[i] = model.TruncateDate(o)
	}
	return dates, nil
}

func tooManyOccurrences(n int) error {
	return &model.ValidationError{
		Field:   "rrule",
		Message: fmt.Sprintf("produces %d dates, at most %d allowed", n, MaxSeriesOccurrences),
	}
}
