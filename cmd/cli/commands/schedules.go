package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/services"
)

func addScheduleFlags(cmd *cobra.Command) {
	cmd.Flags().String("description", "", "Schedule description")
	cmd.Flags().String("location", "", "Where the service takes place")
	cmd.Flags().StringArray("member", nil, "Member assignment as memberID or memberID:functionID,functionID (repeatable)")
}

func scheduleInputFromFlags(cmd *cobra.Command, app *AppContext, title string, date time.Time, at string) (services.ScheduleInput, error) {
	description, _ := cmd.Flags().GetString("description")
	location, _ := cmd.Flags().GetString("location")
	memberFlags, _ := cmd.Flags().GetStringArray("member")

	assignments, err := parseAssignments(memberFlags)
	if err != nil {
		return services.ScheduleInput{}, err
	}

	return services.ScheduleInput{
		Title:       title,
		Description: description,
		Date:        date,
		Time:        at,
		Location:    location,
		Members:     assignments,
		ActorID:     app.ActorID,
	}, nil
}

// CreateScheduleCmd creates the createSchedule command
func CreateScheduleCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "createSchedule <title> <date> <time>",
		Short: "Create a schedule and notify the assigned members",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := parseDateArg("date", args[1])
			if err != nil {
				return err
			}

			input, err := scheduleInputFromFlags(cmd, app, args[0], date, args[2])
			if err != nil {
				return err
			}

			result, err := services.CreateSchedule(app.Ctx, app.Database, app.Deps(), input)
			if err != nil {
				return fmt.Errorf("failed to create schedule: %s", formatConflict(err))
			}

			fmt.Printf("\n✓ Schedule created successfully!\n\n")
			printAggregate(result.Aggregate)
			fmt.Printf("\nNotifications: %s\n\n", formatCounts(result.Notifications))

			return nil
		},
	}

	addScheduleFlags(cmd)
	return cmd
}

// CreateScheduleSeriesCmd creates the createScheduleSeries command
func CreateScheduleSeriesCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "createScheduleSeries <title> <start_date> <time> <rrule>",
		Short: "Create one schedule per occurrence of a recurrence rule, e.g. FREQ=WEEKLY;BYDAY=SU",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDateArg("start_date", args[1])
			if err != nil {
				return err
			}

			var until time.Time
			if untilFlag, _ := cmd.Flags().GetString("until"); untilFlag != "" {
				until, err = parseDateArg("until", untilFlag)
				if err != nil {
					return err
				}
			}

			input, err := scheduleInputFromFlags(cmd, app, args[0], start, args[2])
			if err != nil {
				return err
			}

			result, err := services.CreateScheduleSeries(app.Ctx, app.Database, app.Deps(), input, args[3], until)
			if result != nil {
				printSeries(result)
			}
			if err != nil {
				return fmt.Errorf("failed to create schedule series: %w", err)
			}

			return nil
		},
	}

	addScheduleFlags(cmd)
	cmd.Flags().String("until", "", "Last date of the series (YYYY-MM-DD); required unless the rule has COUNT or UNTIL")
	return cmd
}

func printSeries(result *services.SeriesResult) {
	fmt.Printf("\n✓ Created %d schedules\n\n", len(result.Created))
	for _, agg := range result.Created {
		fmt.Printf("  %s  %s  %s\n", agg.Schedule.Date.Format("2006-01-02 (Mon)"), agg.Schedule.Time, agg.Schedule.ID)
	}

	if len(result.Conflicts) > 0 {
		fmt.Printf("\n⚠️  Skipped %d dates with unavailable members:\n", len(result.Conflicts))
		for _, c := range result.Conflicts {
			fmt.Printf("  %s%s%s  %v\n", colorRed, c.Date.Format(model.DateLayout), colorReset, c.Names)
		}
	}

	fmt.Printf("\nNotifications: %s\n\n", formatCounts(result.Notifications))
}

// UpdateScheduleCmd creates the updateSchedule command
func UpdateScheduleCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updateSchedule <schedule_id>",
		Short: "Update a schedule; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update := services.ScheduleUpdate{ActorID: app.ActorID}
			flags := cmd.Flags()

			for name, target := range map[string]**string{
				"title":       &update.Title,
				"description": &update.Description,
				"time":        &update.Time,
				"location":    &update.Location,
			} {
				if flags.Changed(name) {
					v, _ := flags.GetString(name)
					*target = &v
				}
			}

			if flags.Changed("date") {
				v, _ := flags.GetString("date")
				date, err := parseDateArg("date", v)
				if err != nil {
					return err
				}
				update.Date = &date
			}

			clearMembers, _ := flags.GetBool("clear-members")
			if flags.Changed("member") || clearMembers {
				memberFlags, _ := flags.GetStringArray("member")
				assignments, err := parseAssignments(memberFlags)
				if err != nil {
					return err
				}
				update.Members = &assignments
			}

			app.Logger.Debug("updateSchedule command", zap.String("schedule_id", args[0]))

			result, err := services.UpdateSchedule(app.Ctx, app.Database, app.Deps(), args[0], update)
			if err != nil {
				return fmt.Errorf("failed to update schedule: %s", formatConflict(err))
			}

			fmt.Printf("\n✓ Schedule updated successfully!\n\n")
			printAggregate(result.Aggregate)
			fmt.Printf("\nNotifications: %s\n\n", formatCounts(result.Notifications))

			return nil
		},
	}

	cmd.Flags().String("title", "", "New title")
	cmd.Flags().String("description", "", "New description")
	cmd.Flags().String("date", "", "New date (YYYY-MM-DD)")
	cmd.Flags().String("time", "", "New time (HH:MM)")
	cmd.Flags().String("location", "", "New location")
	cmd.Flags().StringArray("member", nil, "Replacement member assignment (repeatable); replaces the full member list")
	cmd.Flags().Bool("clear-members", false, "Remove every member from the schedule")
	return cmd
}

// DeleteScheduleCmd creates the deleteSchedule command
func DeleteScheduleCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deleteSchedule <schedule_id>",
		Short: "Delete a schedule after notifying its members of the cancellation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.DeleteSchedule(app.Ctx, app.Database, app.Deps(), args[0], app.ActorID)
			if err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Printf("\n✓ Schedule %q on %s deleted\n", result.Aggregate.Schedule.Title,
				result.Aggregate.Schedule.Date.Format(model.DateLayout))
			fmt.Printf("Cancellations: %s\n\n", formatCounts(result.Notifications))

			return nil
		},
	}
}
