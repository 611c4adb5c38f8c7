package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/campus-rota/pkg/core/audit"
)

// AuditLogsCmd creates the auditLogs command
func AuditLogsCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auditLogs",
		Short: "Search the audit log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			filter := audit.Filter{}
			filter.Action, _ = flags.GetString("action")
			filter.ActorID, _ = flags.GetString("actor-id")
			filter.TargetID, _ = flags.GetString("target")
			filter.FreeText, _ = flags.GetString("search")

			if from, _ := flags.GetString("from"); from != "" {
				d, err := parseDateArg("from", from)
				if err != nil {
					return err
				}
				filter.Start = &d
			}
			if to, _ := flags.GetString("to"); to != "" {
				d, err := parseDateArg("to", to)
				if err != nil {
					return err
				}
				// Include the whole final day
				end := d.Add(24*time.Hour - time.Nanosecond)
				filter.End = &end
			}

			page := audit.Page{}
			page.Number, _ = flags.GetInt("page")
			page.Size, _ = flags.GetInt("page-size")

			result, err := app.Audit.Query(app.Ctx, filter, page)
			if err != nil {
				return err
			}

			fmt.Printf("\nAudit log page %d of %d (%d entries)\n\n", result.Page, result.TotalPages, result.Total)
			for _, e := range result.Entries {
				actor := e.ActorID
				if actor == "" {
					actor = "system"
				}
				fmt.Printf("  %s  %-28s %s%-36s%s %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Action, colorDim, actor, colorReset, e.Description)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().String("action", "", "Only entries with this action, e.g. SCHEDULE_CREATED")
	cmd.Flags().String("actor-id", "", "Only entries by this actor")
	cmd.Flags().String("target", "", "Only entries about this target id")
	cmd.Flags().String("from", "", "Only entries on or after this date")
	cmd.Flags().String("to", "", "Only entries on or before this date")
	cmd.Flags().String("search", "", "Case-insensitive text search in descriptions")
	cmd.Flags().Int("page", 1, "Page number")
	cmd.Flags().Int("page-size", 50, "Entries per page")
	return cmd
}

// CleanupAuditLogsCmd creates the cleanupAuditLogs command
func CleanupAuditLogsCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanupAuditLogs",
		Short: "Delete audit entries older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			retention := app.Cfg.AuditRetention()
			if cmd.Flags().Changed("retention-days") {
				days, _ := cmd.Flags().GetInt("retention-days")
				retention = time.Duration(days) * 24 * time.Hour
			}

			deleted, err := app.Audit.Cleanup(app.Ctx, retention)
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Deleted %d audit entries older than %d days\n\n", deleted, int(retention.Hours()/24))
			return nil
		},
	}

	cmd.Flags().Int("retention-days", 0, "Override the configured retention")
	return cmd
}
