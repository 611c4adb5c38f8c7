package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/services"
	"github.com/jakechorley/campus-rota/pkg/db"
)

const defaultStatsWindow = 30 * 24 * time.Hour

// NotifyCmd creates the notify command
func NotifyCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify <message>",
		Short: "Send a custom message to a schedule's members or to chosen members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduleID, _ := cmd.Flags().GetString("schedule")
			memberIDs, _ := cmd.Flags().GetStringSlice("member")

			counts, err := services.SendCustomNotification(app.Ctx, app.Database, app.Deps(), services.CustomNotificationInput{
				ScheduleID: scheduleID,
				MemberIDs:  memberIDs,
				Text:       args[0],
				ActorID:    app.ActorID,
			})
			if err != nil {
				return fmt.Errorf("failed to send notification: %w", err)
			}

			fmt.Printf("\n✓ Notification dispatched: %s\n\n", formatCounts(counts))
			return nil
		},
	}

	cmd.Flags().String("schedule", "", "Schedule whose members receive the message")
	cmd.Flags().StringSlice("member", nil, "Member ids to notify (comma separated or repeated)")
	return cmd
}

// SendRemindersCmd creates the sendReminders command
func SendRemindersCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sendReminders",
		Short: "Run the reminder sweep now instead of waiting for the worker's schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			leadDays, _ := cmd.Flags().GetInt("lead-days")
			if !cmd.Flags().Changed("lead-days") {
				leadDays = app.Cfg.Reminders.LeadDays
			}

			summary, err := services.SendScheduleReminders(app.Ctx, app.Database, app.Deps(), leadDays)
			if err != nil {
				return fmt.Errorf("failed to send reminders: %w", err)
			}

			fmt.Printf("\n✓ Reminders for %s: %d schedules, %s\n\n",
				summary.Date.Format("2006-01-02 (Monday)"), summary.Schedules, formatCounts(summary.Notifications))
			return nil
		},
	}

	cmd.Flags().Int("lead-days", 0, "Remind about schedules this many days ahead (defaults to the configured value)")
	return cmd
}

// NotificationLogCmd creates the notificationLog command
func NotificationLogCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notificationLog",
		Short: "Show recent notification records for a schedule or member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduleID, _ := cmd.Flags().GetString("schedule")
			memberID, _ := cmd.Flags().GetString("member")
			notificationType, _ := cmd.Flags().GetString("type")
			limit, _ := cmd.Flags().GetInt("limit")

			records, err := app.Database.ListNotificationRecords(app.Ctx, db.NotificationQuery{
				ScheduleID: scheduleID,
				MemberID:   memberID,
				Type:       model.NotificationType(strings.ToUpper(notificationType)),
				Limit:      limit,
			})
			if err != nil {
				return fmt.Errorf("failed to list notification records: %w", err)
			}

			fmt.Printf("\n%d notification records:\n\n", len(records))
			for _, r := range records {
				fmt.Printf("  %s  %-16s %-9s %s%-7s%s %s",
					r.CreatedAt.Format("2006-01-02 15:04"), r.Type, r.Channel,
					notificationStatusColor(r.Status), r.Status, colorReset, r.MemberID)
				if r.ErrorMessage != "" {
					fmt.Printf("  %s%s%s", colorDim, r.ErrorMessage, colorReset)
				}
				fmt.Println()
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().String("schedule", "", "Only records for this schedule")
	cmd.Flags().String("member", "", "Only records for this member")
	cmd.Flags().String("type", "", "Only records of this type, e.g. REMINDER")
	cmd.Flags().Int("limit", 50, "Maximum records to show")
	return cmd
}

func notificationStatusColor(status model.NotificationStatus) string {
	switch status {
	case model.NotificationFailed:
		return colorRed
	case model.NotificationRead:
		return colorDim
	default:
		return colorGreen
	}
}

// MarkNotificationReadCmd creates the markNotificationRead command
func MarkNotificationReadCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "markNotificationRead <notification_id>",
		Short: "Mark a sent notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := services.MarkNotificationRead(app.Ctx, app.Database, args[0]); err != nil {
				return err
			}
			fmt.Printf("\n✓ Notification %s marked read\n\n", args[0])
			return nil
		},
	}
}

// NotificationStatsCmd creates the notificationStats command
func NotificationStatsCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notificationStats",
		Short: "Show notification counts by type, channel and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			since := time.Now().Add(-defaultStatsWindow)
			if sinceFlag, _ := cmd.Flags().GetString("since"); sinceFlag != "" {
				d, err := parseDateArg("since", sinceFlag)
				if err != nil {
					return err
				}
				since = d
			}

			app.Logger.Debug("notificationStats command", zap.Time("since", since))

			stats, err := services.GetNotificationStats(app.Ctx, app.Database, app.Logger, since)
			if err != nil {
				return err
			}

			fmt.Printf("\nNotifications since %s\n\n", stats.Since.Format(model.DateLayout))
			fmt.Printf("%-18s %-10s %-8s %6s\n", "TYPE", "CHANNEL", "STATUS", "COUNT")
			fmt.Println(strings.Repeat("-", 45))
			for _, row := range stats.Rows {
				fmt.Printf("%-18s %-10s %s%-8s%s %6d\n", row.Type, row.Channel,
					notificationStatusColor(row.Status), row.Status, colorReset, row.Count)
			}
			fmt.Println(strings.Repeat("-", 45))
			fmt.Printf("Total %d (sent %d, read %d, failed %d)\n\n", stats.Total,
				stats.ByStatus[model.NotificationSent], stats.ByStatus[model.NotificationRead],
				stats.ByStatus[model.NotificationFailed])
			return nil
		},
	}

	cmd.Flags().String("since", "", "Count records created on or after this date (default: last 30 days)")
	return cmd
}
