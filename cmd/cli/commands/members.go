package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/services"
	"github.com/jakechorley/campus-rota/pkg/db"
)

// ListMembersCmd creates the listMembers command
func ListMembersCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listMembers",
		Short: "List members, optionally filtered by campus, ministry or status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			campus, _ := cmd.Flags().GetString("campus")
			ministry, _ := cmd.Flags().GetString("ministry")
			status, _ := cmd.Flags().GetString("status")

			members, err := app.Database.ListMembers(app.Ctx, db.MemberQuery{
				Campus:   campus,
				Ministry: ministry,
				Status:   model.MemberStatus(status),
			})
			if err != nil {
				return fmt.Errorf("failed to list members: %w", err)
			}

			fmt.Printf("\nFound %d members:\n\n", len(members))
			for _, m := range members {
				fmt.Printf("- %s - %s - %s\n", formatMember(m), m.Status, m.Email)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().String("campus", "", "Only members of this campus")
	cmd.Flags().String("ministry", "", "Only members of this ministry")
	cmd.Flags().String("status", "", "Only members with this status (PENDING, ACTIVE, REJECTED, INACTIVE)")
	return cmd
}

// ApproveMemberCmd creates the approveMember command
func ApproveMemberCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approveMember <member_id>",
		Short: "Approve a pending registration and notify the member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.ApproveMember(app.Ctx, app.Database, app.Deps(), args[0], app.ActorID)
			if err != nil {
				return fmt.Errorf("failed to approve member: %w", err)
			}

			fmt.Printf("\n✓ %s approved\n", formatMember(result.Member))
			fmt.Printf("Notification: %s\n\n", formatCounts(result.Notifications))
			return nil
		},
	}
}

// RejectMemberCmd creates the rejectMember command
func RejectMemberCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rejectMember <member_id>",
		Short: "Reject a pending registration and notify the member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")

			result, err := services.RejectMember(app.Ctx, app.Database, app.Deps(), args[0], app.ActorID, reason)
			if err != nil {
				return fmt.Errorf("failed to reject member: %w", err)
			}

			fmt.Printf("\n✓ %s rejected\n", formatMember(result.Member))
			fmt.Printf("Notification: %s\n\n", formatCounts(result.Notifications))
			return nil
		},
	}

	cmd.Flags().String("reason", "", "Reason included in the member's notification")
	return cmd
}

// DeleteMemberCmd creates the deleteMember command
func DeleteMemberCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deleteMember <member_id>",
		Short: "Delete a member along with their assignments, unavailabilities and notification history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := services.DeleteMember(app.Ctx, app.Database, app.Deps(), args[0], app.ActorID); err != nil {
				return fmt.Errorf("failed to delete member: %w", err)
			}

			fmt.Printf("\n✓ Member %s deleted\n\n", args[0])
			return nil
		},
	}
}
