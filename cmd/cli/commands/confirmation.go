package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/services"
)

// ConfirmCmd creates the confirm command
func ConfirmCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <schedule_id> <member_id>",
		Short: "Record that a member will attend a schedule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sm, err := services.ConfirmAttendance(app.Ctx, app.Database, app.Deps(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to confirm attendance: %w", err)
			}
			printResponse(sm)
			return nil
		},
	}
}

// MarkUnavailableCmd creates the markUnavailable command
func MarkUnavailableCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "markUnavailable <schedule_id> <member_id>",
		Short: "Record that a member cannot attend a schedule and alert the administrators",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sm, err := services.MarkUnavailable(app.Ctx, app.Database, app.Deps(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to mark unavailable: %w", err)
			}
			printResponse(sm)
			return nil
		},
	}
}

func printResponse(sm *model.ScheduleMember) {
	fmt.Printf("\n✓ %s is now %s%s%s for schedule %s\n\n",
		sm.Member.Name, statusColor(sm.Status), sm.Status, colorReset, sm.ScheduleID)
}
