package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jakechorley/campus-rota/pkg/core/availability"
	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/services"
)

// AddUnavailabilityCmd creates the addUnavailability command
func AddUnavailabilityCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addUnavailability <member_id> <start_date> <end_date>",
		Short: "Record that a member cannot serve between two dates, inclusive",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDateArg("start_date", args[1])
			if err != nil {
				return err
			}
			end, err := parseDateArg("end_date", args[2])
			if err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")

			u, err := services.CreateUnavailability(app.Ctx, app.Database, app.Deps(), services.UnavailabilityInput{
				MemberID:  args[0],
				StartDate: start,
				EndDate:   end,
				Reason:    reason,
				ActorID:   app.ActorID,
			})
			if err != nil {
				return fmt.Errorf("failed to add unavailability: %w", err)
			}

			fmt.Printf("\n✓ Unavailability %s recorded: %s to %s\n\n", u.ID,
				u.StartDate.Format(model.DateLayout), u.EndDate.Format(model.DateLayout))
			return nil
		},
	}

	cmd.Flags().String("reason", "", "Why the member is unavailable")
	return cmd
}

// ListUnavailabilityCmd creates the listUnavailability command
func ListUnavailabilityCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "listUnavailability <member_id>",
		Short: "List a member's unavailable periods",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unavs, err := services.ListUnavailabilities(app.Ctx, app.Database, args[0])
			if err != nil {
				return fmt.Errorf("failed to list unavailabilities: %w", err)
			}

			if len(unavs) == 0 {
				fmt.Println("No unavailable periods recorded.")
				return nil
			}

			fmt.Printf("\n%d unavailable periods:\n\n", len(unavs))
			for _, u := range unavs {
				fmt.Printf("  %s  %s to %s  %s%s%s\n", u.ID,
					u.StartDate.Format(model.DateLayout), u.EndDate.Format(model.DateLayout),
					colorDim, u.Reason, colorReset)
			}
			fmt.Println()
			return nil
		},
	}
}

// DeleteUnavailabilityCmd creates the deleteUnavailability command
func DeleteUnavailabilityCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deleteUnavailability <unavailability_id>",
		Short: "Remove an unavailable period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := services.DeleteUnavailability(app.Ctx, app.Database, app.Deps(), args[0], app.ActorID); err != nil {
				return fmt.Errorf("failed to delete unavailability: %w", err)
			}
			fmt.Printf("\n✓ Unavailability %s deleted\n\n", args[0])
			return nil
		},
	}
}

// AvailableMembersCmd creates the availableMembers command
func AvailableMembersCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availableMembers <date>",
		Short: "List active members free to serve on a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := parseDateArg("date", args[0])
			if err != nil {
				return err
			}

			viewer, err := app.viewer()
			if err != nil {
				return err
			}

			campus, _ := cmd.Flags().GetString("campus")
			ministry, _ := cmd.Flags().GetString("ministry")
			search, _ := cmd.Flags().GetString("search")

			members, err := app.Availability.AvailableMembers(app.Ctx, date, availability.Filter{
				Campus:   campus,
				Ministry: ministry,
				Search:   search,
				Viewer:   viewer,
			})
			if err != nil {
				return fmt.Errorf("failed to list available members: %w", err)
			}

			fmt.Printf("\n%d members available on %s:\n\n", len(members), date.Format("2006-01-02 (Monday)"))
			for _, m := range members {
				fmt.Printf("- %s\n", formatMember(m))
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().String("campus", "", "Only members of this campus")
	cmd.Flags().String("ministry", "", "Only members of this ministry")
	cmd.Flags().String("search", "", "Case-insensitive match on name, email or phone")
	return cmd
}
