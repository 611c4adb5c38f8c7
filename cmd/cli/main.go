package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/cmd/cli/commands"
	"github.com/jakechorley/campus-rota/internal/config"
	"github.com/jakechorley/campus-rota/pkg/clients/channelclient"
	"github.com/jakechorley/campus-rota/pkg/core/audit"
	"github.com/jakechorley/campus-rota/pkg/core/availability"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
	"github.com/jakechorley/campus-rota/pkg/core/services"
	"github.com/jakechorley/campus-rota/pkg/jobs"
	"github.com/jakechorley/campus-rota/pkg/postgres"
	"github.com/jakechorley/campus-rota/pkg/utils/logging"
)

var (
	env      string
	actorID  string
	logLevel string

	app      = &commands.AppContext{}
	database *postgres.DB
	rdb      *redis.Client
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cli",
		Short: "Campus Rota CLI - Schedule volunteers and notify them",
		Long: `A CLI tool for managing service schedules, member assignments and availability,
and for running the notification worker.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			shutdown()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (required: test, prod, etc.)")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "Member id of the administrator performing the action")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Console log level (overrides config)")
	rootCmd.MarkPersistentFlagRequired("env")

	rootCmd.AddCommand(
		commands.MigrateCmd(app),
		commands.WorkerCmd(app),
		commands.CreateScheduleCmd(app),
		commands.CreateScheduleSeriesCmd(app),
		commands.UpdateScheduleCmd(app),
		commands.DeleteScheduleCmd(app),
		commands.ConfirmCmd(app),
		commands.MarkUnavailableCmd(app),
		commands.NotifyCmd(app),
		commands.SendRemindersCmd(app),
		commands.NotificationLogCmd(app),
		commands.MarkNotificationReadCmd(app),
		commands.NotificationStatsCmd(app),
		commands.ListMembersCmd(app),
		commands.ApproveMemberCmd(app),
		commands.RejectMemberCmd(app),
		commands.DeleteMemberCmd(app),
		commands.AddUnavailabilityCmd(app),
		commands.ListUnavailabilityCmd(app),
		commands.DeleteUnavailabilityCmd(app),
		commands.AvailableMembersCmd(app),
		commands.AuditLogsCmd(app),
		commands.CleanupAuditLogsCmd(app),
		commands.ChannelStatusCmd(app),
		commands.ChannelReconnectCmd(app),
		commands.ChannelDisconnectCmd(app),
		commands.AuthorizeGmailCmd(app),
		commands.InteractiveCmd(app),
	)

	if err := rootCmd.Execute(); err != nil {
		shutdown()
		os.Exit(1)
	}
}

// initApp loads configuration and wires the stores, clients and services for the command
func initApp(cmd *cobra.Command) error {
	var err error
	app.Ctx = context.Background()
	app.Env = env
	app.ActorID = actorID

	// Load configuration before the logger so the log level and directory apply
	app.Cfg, err = config.LoadWithEnv(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := app.Cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	app.Logger, err = logging.InitLogger(env, logging.Options{
		Level:       level,
		Dir:         app.Cfg.LogDir,
		JSONConsole: cmd.Name() == "worker",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.Logger.Info("Starting application", zap.String("environment", env), zap.String("command", cmd.Name()))

	if cmd.Annotations[commands.AnnotationConfigOnly] == "true" {
		return nil
	}

	// Database
	app.Logger.Info("Connecting to database")
	database, err = postgres.NewDB(app.Ctx, app.Cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.Database = database
	app.Migrator = database
	app.Logger.Debug("Database connected")

	// Job broker, only when something enqueues or consumes jobs
	if app.Cfg.EmailFallback || cmd.Annotations[commands.AnnotationNeedsQueue] == "true" {
		app.Logger.Info("Connecting to job broker", zap.String("addr", app.Cfg.Redis.Addr))
		rdb, err = jobs.NewRedisClient(app.Ctx, app.Cfg.Redis.Addr, app.Cfg.Redis.Password, app.Cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to job broker: %w", err)
		}
		app.Queue = jobs.NewQueue(rdb, jobs.Config{
			Prefix:      app.Cfg.Redis.KeyPrefix,
			MaxAttempts: app.Cfg.Jobs.MaxAttempts,
			Location:    app.Cfg.Location(),
		}, app.Logger)
	}

	// Messaging channel
	app.Channel = channelclient.NewClient(channelclient.Config{
		BaseURL:         app.Cfg.Channel.BaseURL,
		SendTimeout:     app.Cfg.Channel.SendTimeout,
		PollTimeout:     app.Cfg.Channel.PollInterval,
		BreakerFailures: app.Cfg.Channel.BreakerFailures,
		BreakerOpenFor:  app.Cfg.Channel.BreakerOpenFor,
	}, app.Logger)
	if cmd.Name() != "worker" {
		// One-shot commands poll once so dispatches see the current channel state
		state := app.Channel.Refresh(app.Ctx)
		app.Logger.Debug("Channel state", zap.String("state", string(state.ConnectionState())))
	}

	// Core services
	app.Audit = audit.NewTrail(database, app.Logger, app.Cfg.Audit.Mode)
	app.Availability = availability.NewIndex(database, app.Logger)

	var emails notify.EmailQueue
	if app.Cfg.EmailFallback {
		emails = jobs.EmailEnqueuer{Queue: app.Queue}
	}
	app.Dispatcher = notify.NewDispatcher(app.Channel, database, app.Audit, emails, app.Logger)
	app.Detached = services.NewDetacher(app.Logger, 0)

	app.Logger.Info("Application initialized")
	return nil
}

// shutdown waits for detached notifications and releases connections
func shutdown() {
	if app.Detached != nil {
		app.Detached.Wait()
		app.Detached = nil
	}
	if rdb != nil {
		rdb.Close()
		rdb = nil
	}
	if database != nil {
		database.Close()
		database = nil
	}
	if app.Logger != nil {
		app.Logger.Sync()
	}
}
