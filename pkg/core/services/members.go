package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/audit"
	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// MemberAdminStore defines the database operations needed for member administration
type MemberAdminStore interface {
	GetMember(ctx context.Context, id string) (*model.Member, error)
	SetMemberStatus(ctx context.Context, id string, status model.MemberStatus) error
	DeleteMember(ctx context.Context, id string) error
}

// MemberResult is the outcome of a member administration action
type MemberResult struct {
	Member        model.Member
	Notifications notify.Counts
}

// ApproveMember activates a pending registration and welcomes the member
func ApproveMember(ctx context.Context, store MemberAdminStore, deps Deps, memberID, actorID string) (*MemberResult, error) {
	member, err := transitionMember(ctx, store, deps, memberID, model.MemberActive)
	if err != nil {
		return nil, err
	}

	deps.Audit.Record(ctx, audit.ActionMemberApproved, actorID, memberID, fmt.Sprintf("Approved %s", member.Name))
	counts := deps.Notifier.NotifyMember(ctx, *member, notify.MemberApprovedMessage{}, actorID)

	return &MemberResult{Member: *member, Notifications: counts}, nil
}

// RejectMember declines a pending registration and tells the applicant
func RejectMember(ctx context.Context, store MemberAdminStore, deps Deps, memberID, actorID, reason string) (*MemberResult, error) {
	member, err := transitionMember(ctx, store, deps, memberID, model.MemberRejected)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Rejected %s", member.Name)
	if reason != "" {
		description += ": " + reason
	}
	deps.Audit.Record(ctx, audit.ActionMemberRejected, actorID, memberID, description)
	counts := deps.Notifier.NotifyMember(ctx, *member, notify.MemberRejectedMessage{Reason: reason}, actorID)

	return &MemberResult{Member: *member, Notifications: counts}, nil
}

func transitionMember(ctx context.Context, store MemberAdminStore, deps Deps, memberID string, to model.MemberStatus) (*model.Member, error) {
	member, err := getMember(ctx, store, memberID)
	if err != nil {
		return nil, err
	}

	if member.Status != model.MemberPending {
		return nil, &model.ConflictError{
			Reason: fmt.Sprintf("member is %s, only pending registrations can become %s", member.Status, to),
			Names:  []string{member.Name},
		}
	}

	if err := store.SetMemberStatus(ctx, memberID, to); err != nil {
		return nil, fmt.Errorf("failed to update member status: %w", err)
	}
	deps.Logger.Info("Member status changed",
		zap.String("member_id", memberID),
		zap.String("from", string(member.Status)),
		zap.String("to", string(to)))

	member.Status = to
	return member, nil
}

// DeleteMember removes a member together with their notification history
func DeleteMember(ctx context.Context, store MemberAdminStore, deps Deps, memberID, actorID string) error {
	member, err := getMember(ctx, store, memberID)
	if err != nil {
		return err
	}

	if err := store.DeleteMember(ctx, memberID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return &model.NotFoundError{Entity: "member", ID: memberID}
		}
		return fmt.Errorf("failed to delete member: %w", err)
	}
	deps.Logger.Info("Member deleted", zap.String("member_id", memberID))

	deps.Audit.Record(ctx, audit.ActionMemberDeleted, actorID, memberID, fmt.Sprintf("Deleted %s", member.Name))
	return nil
}

type memberGetter interface {
	GetMember(ctx context.Context, id string) (*model.Member, error)
}

func getMember(ctx context.Context, store memberGetter, id string) (*model.Member, error) {
	member, err := store.GetMember(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, &model.NotFoundError{Entity: "member", ID: id}
		}
		return nil, fmt.Errorf("failed to fetch member: %w", err)
	}
	return member, nil
}
