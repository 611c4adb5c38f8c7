package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/campus-rota/internal/config"
	"github.com/jakechorley/campus-rota/pkg/clients/channelclient"
	"github.com/jakechorley/campus-rota/pkg/core/audit"
	"github.com/jakechorley/campus-rota/pkg/core/availability"
	"github.com/jakechorley/campus-rota/pkg/core/model"
	"github.com/jakechorley/campus-rota/pkg/core/notify"
	"github.com/jakechorley/campus-rota/pkg/core/services"
	"github.com/jakechorley/campus-rota/pkg/db"
	"github.com/jakechorley/campus-rota/pkg/jobs"
)

// Command annotations read by the root command's bootstrap
const (
	// AnnotationConfigOnly skips connecting to the database, broker and channel
	AnnotationConfigOnly = "configOnly"
	// AnnotationNeedsQueue connects the job broker even when the email fallback is off
	AnnotationNeedsQueue = "needsQueue"
)

// Migrator applies pending schema migrations. postgres.DB implements this interface.
type Migrator interface {
	RunMigrations(ctx context.Context) error
}

// AppContext holds the application dependencies shared across all commands
type AppContext struct {
	Env     string
	ActorID string // Member id of the administrator running the command, empty for system actions

	Cfg          *config.Config
	Database     db.Database
	Migrator     Migrator
	Channel      *channelclient.Client
	Dispatcher   *notify.Dispatcher
	Audit        *audit.Trail
	Availability *availability.Index
	Queue        *jobs.Queue // Nil unless the email fallback or the worker needs it
	Detached     *services.Detacher
	Logger       *zap.Logger
	Ctx          context.Context
}

// Deps builds the service collaborators from the application context
func (app *AppContext) Deps() services.Deps {
	return services.Deps{
		Availability: app.Availability,
		Notifier:     app.Dispatcher,
		Audit:        app.Audit,
		Detached:     app.Detached,
		Logger:       app.Logger,
		Location:     app.Cfg.Location(),
	}
}

// viewer resolves the acting member's role for scoped lookups. Without an actor the caller is
// treated as a global administrator.
func (app *AppContext) viewer() (availability.Viewer, error) {
	if app.ActorID == "" {
		return availability.Viewer{Role: model.RoleGlobalAdmin}, nil
	}

	member, err := app.Database.GetMember(app.Ctx, app.ActorID)
	if err != nil {
		return availability.Viewer{}, fmt.Errorf("failed to look up actor %s: %w", app.ActorID, err)
	}
	if !member.Role.IsAdmin() {
		return availability.Viewer{}, fmt.Errorf("actor %s is not an administrator", app.ActorID)
	}

	return availability.Viewer{UserID: member.ID, Role: member.Role}, nil
}
