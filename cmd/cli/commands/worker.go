package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/internal/config"
	"github.com/jakechorley/campus-rota/pkg/clients/channelclient"
	"github.com/jakechorley/campus-rota/pkg/clients/gmailclient"
	"github.com/jakechorley/campus-rota/pkg/core/services"
	"github.com/jakechorley/campus-rota/pkg/jobs"
	"github.com/jakechorley/campus-rota/pkg/utils"
)

const auditCleanupSpec = "0 30 3 * * *"

// WorkerCmd creates the worker command
func WorkerCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the channel poller, the job runner and the scheduled sweeps until interrupted",
		Long: `Runs the long-lived background work:
  - polls the messaging channel so dispatches see its current state
  - delivers queued fallback emails (when emailFallback is enabled)
  - sends schedule reminders on the configured cron
  - deletes audit entries past their retention once a day`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{AnnotationNeedsQueue: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if app.Cfg.EmailFallback {
				mailer, err := newMailer(ctx, app)
				if err != nil {
					return err
				}
				app.Queue.Process(jobs.TypeSendEmail, jobs.SendEmailHandler(mailer, app.Logger))
			}

			app.Queue.Process(jobs.TypeScheduleReminders, jobs.ScheduleRemindersHandler(func(ctx context.Context) error {
				summary, err := services.SendScheduleReminders(ctx, app.Database, app.Deps(), app.Cfg.Reminders.LeadDays)
				if err != nil {
					return err
				}
				app.Logger.Info("Reminder sweep finished",
					zap.Time("date", summary.Date),
					zap.Int("schedules", summary.Schedules),
					zap.Stringer("notifications", summary.Notifications))
				return nil
			}))

			app.Queue.Process(jobs.TypeAuditCleanup, jobs.AuditCleanupHandler(func(ctx context.Context) error {
				_, err := app.Audit.Cleanup(ctx, app.Cfg.AuditRetention())
				return err
			}))

			if _, err := app.Queue.Enqueue(ctx, jobs.TypeScheduleReminders, nil, jobs.EnqueueOptions{Repeat: app.Cfg.Reminders.Cron}); err != nil {
				return fmt.Errorf("failed to schedule reminders: %w", err)
			}
			if _, err := app.Queue.Enqueue(ctx, jobs.TypeAuditCleanup, nil, jobs.EnqueueOptions{Repeat: auditCleanupSpec}); err != nil {
				return fmt.Errorf("failed to schedule audit cleanup: %w", err)
			}

			poller := channelclient.NewPoller(app.Channel, app.Logger, app.Cfg.Channel.PollInterval)
			poller.Start()
			defer poller.Stop()

			app.Logger.Info("Worker started",
				zap.String("reminder_cron", app.Cfg.Reminders.Cron),
				zap.Int("reminder_lead_days", app.Cfg.Reminders.LeadDays),
				zap.Bool("email_fallback", app.Cfg.EmailFallback))

			if err := app.Queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("job runner stopped: %w", err)
			}

			app.Logger.Info("Worker shutting down")
			return nil
		},
	}
}

// newMailer builds the Gmail sender from the token saved by authorizeGmail
func newMailer(ctx context.Context, app *AppContext) (*gmailclient.Client, error) {
	oauthCfg, err := config.LoadOAuthClientWithEnv(app.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to load OAuth client config: %w", err)
	}

	store, err := utils.DefaultTokenStore()
	if err != nil {
		return nil, err
	}
	token, err := store.Load(app.Env)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fmt.Errorf("no Gmail token for environment %q: run authorizeGmail first", app.Env)
	}

	mailer, err := gmailclient.NewClient(ctx, oauthCfg, token, app.Cfg.Gmail)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail client: %w", err)
	}
	return mailer, nil
}
