package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/audit"
	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// UnavailabilityStore defines the database operations needed to manage unavailability
type UnavailabilityStore interface {
	GetMember(ctx context.Context, id string) (*model.Member, error)
	ListUnavailabilities(ctx context.Context, memberID string) ([]model.Unavailability, error)
	InsertUnavailability(ctx context.Context, u *model.Unavailability) error
	DeleteUnavailability(ctx context.Context, id string) error
}

// UnavailabilityInput describes a date range a member cannot serve
type UnavailabilityInput struct {
	MemberID  string
	StartDate time.Time
	EndDate   time.Time
	Reason    string
	ActorID   string
}

// CreateUnavailability registers an unavailability. A member's intervals may not overlap.
func CreateUnavailability(ctx context.Context, store UnavailabilityStore, deps Deps, input UnavailabilityInput) (*model.Unavailability, error) {
	u := &model.Unavailability{
		ID:        uuid.New().String(),
		MemberID:  input.MemberID,
		StartDate: model.TruncateDate(input.StartDate),
		EndDate:   model.TruncateDate(input.EndDate),
		Reason:    strings.TrimSpace(input.Reason),
	}

	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return nil, &model.ValidationError{Field: "dates", Message: "start and end dates are required"}
	}
	if u.EndDate.Before(u.StartDate) {
		return nil, &model.ValidationError{Field: "endDate", Message: "must not be before startDate"}
	}

	member, err := getMember(ctx, store, input.MemberID)
	if err != nil {
		return nil, err
	}

	existing, err := store.ListUnavailabilities(ctx, input.MemberID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unavailabilities: %w", err)
	}
	for _, other := range existing {
		if u.Overlaps(other) {
			return nil, overlapConflict(member.Name, other)
		}
	}

	if err := store.InsertUnavailability(ctx, u); err != nil {
		var overlap *db.OverlapError
		if errors.As(err, &overlap) {
			return nil, overlapConflict(member.Name, overlap.Existing)
		}
		return nil, fmt.Errorf("failed to save unavailability: %w", err)
	}
	deps.Logger.Info("Unavailability created",
		zap.String("member_id", u.MemberID),
		zap.String("start", u.StartDate.Format(model.DateLayout)),
		zap.String("end", u.EndDate.Format(model.DateLayout)))

	deps.Audit.Record(ctx, audit.ActionUnavailabilityCreated, input.ActorID, u.ID,
		fmt.Sprintf("%s unavailable %s to %s", member.Name, u.StartDate.Format(model.DateLayout), u.EndDate.Format(model.DateLayout)))

	return u, nil
}

// ListUnavailabilities returns a member's unavailability intervals
func ListUnavailabilities(ctx context.Context, store UnavailabilityStore, memberID string) ([]model.Unavailability, error) {
	if _, err := getMember(ctx, store, memberID); err != nil {
		return nil, err
	}
	unavailabilities, err := store.ListUnavailabilities(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unavailabilities: %w", err)
	}
	return unavailabilities, nil
}

// DeleteUnavailability removes an unavailability interval
func DeleteUnavailability(ctx context.Context, store UnavailabilityStore, deps Deps, id, actorID string) error {
	if err := store.DeleteUnavailability(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return &model.NotFoundError{Entity: "unavailability", ID: id}
		}
		return fmt.Errorf("failed to delete unavailability: %w", err)
	}
	deps.Audit.Record(ctx, audit.ActionUnavailabilityDeleted, actorID, id, "Deleted unavailability")
	return nil
}

func overlapConflict(name string, existing model.Unavailability) error {
	return &model.ConflictError{
		Reason: fmt.Sprintf("overlaps existing unavailability %s to %s",
			existing.StartDate.Format(model.DateLayout), existing.EndDate.Format(model.DateLayout)),
		Names: []string{name},
	}
}
