// Package app wires configuration, the query engine and its front ends into
// one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource/sqlite"
	_ "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource/trino"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/audit"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/chat"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/config"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/database"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/definitions"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/engine"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/handlers"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/mcp"
	mcpauth "github.com/ekaya-inc/ekaya-sqlbot/pkg/mcp/auth"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/metrics"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/middleware"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/services"
)

// App owns every long-lived component. Build it with New and release it
// with Close.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Loader      *definitions.Loader
	Connections *datasource.ConnectionManager
	Executor    *engine.Executor
	Metrics     *metrics.Metrics
	Status      services.StatusService
	MCP         *mcp.Server
	QueryTools  *tools.QueryTools
	Chat        *chat.Handler

	auditDB   *database.DB
	auditSink audit.MultiSink
}

// Options tunes New for commands that need only part of the graph.
type Options struct {
	// SkipAuditStore leaves execution records log-only even when
	// AUDIT_DATABASE_URL is set.
	SkipAuditStore bool
}

// New loads the definitions and builds the engine and front ends. A load
// failure is returned before any connection is opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if _, err := datasource.GetDialect(cfg.Engine.DefaultDialect); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_DIALECT: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Loader:  definitions.NewLoader(cfg.QueryDefinitionsPath, logger),
		Metrics: metrics.New(),
	}

	if err := a.Loader.Load(); err != nil {
		return nil, fmt.Errorf("failed to load query definitions: %w", err)
	}
	a.Metrics.SetDefinitionsLoaded(a.Loader.Count())

	a.auditSink = audit.MultiSink{audit.NewLogSink(logger)}
	var auditStore services.Pinger
	if cfg.Audit.Enabled() && !opts.SkipAuditStore {
		db, err := openAuditStore(ctx, cfg.Audit, logger)
		if err != nil {
			return nil, err
		}
		a.auditDB = db
		a.auditSink = append(a.auditSink, audit.NewPostgresSink(db.Pool, cfg.Audit.BufferSize, logger))
		auditStore = db
	}

	a.Connections = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		DefaultDialect: cfg.Engine.DefaultDialect,
	}, logger)

	a.Executor = engine.NewExecutor(a.Connections, logger,
		engine.WithCache(engine.NewResultCache(cfg.Engine.CacheMaxEntries)),
		engine.WithAuditSink(a.auditSink),
		engine.WithSecurityAuditor(audit.NewSecurityAuditor(logger)),
		engine.WithMetrics(a.Metrics),
		engine.WithQueryTimeout(cfg.Engine.QueryTimeout),
	)

	a.Status = services.NewStatusService(cfg.Version, a.Loader, a.Executor, a.Connections, auditStore, logger)

	observer := mcp.NewCallObserver(a.Metrics, logger)
	a.MCP = mcp.NewServer(cfg.MCP.ServerName, cfg.Version, observer.Hooks(), logger)
	a.QueryTools = tools.NewQueryTools(&tools.QueryToolDeps{
		Definitions: a.Loader,
		Runner:      a.Executor,
		Converter:   tools.NewConverter(cfg.ToolGroups),
		Logger:      logger,
	})
	a.QueryTools.Sync(a.MCP.MCP())
	tools.RegisterHealthTool(a.MCP.MCP(), a.Status)
	tools.RegisterReloadTool(a.MCP.MCP(), reloadFunc(a.reloadDefinitions), a.QueryTools, logger)

	var limiter *chat.RateLimiter
	if cfg.Chat.CooldownSeconds > 0 {
		limiter = chat.NewRateLimiter(cfg.Chat.Cooldown())
	}
	a.Chat = chat.NewHandler(chat.Deps{
		Definitions: chatDefinitions{a.Loader, a.reloadDefinitions},
		Runner:      a.Executor,
		Limiter:     limiter,
		Metrics:     a.Metrics,
		AfterReload: func() { a.QueryTools.Sync(a.MCP.MCP()) },
		Logger:      logger,
	})

	return a, nil
}

func openAuditStore(ctx context.Context, cfg config.AuditConfig, logger *zap.Logger) (*database.DB, error) {
	db, err := database.NewConnection(ctx, &database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit store: %w", err)
	}
	if err := database.RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate audit store: %w", err)
	}
	logger.Info("Audit store enabled")
	return db, nil
}

// reloadDefinitions reloads from disk and refreshes the definitions gauge.
// Tool re-registration is left to the caller.
func (a *App) reloadDefinitions() (definitions.ReloadStats, error) {
	stats, err := a.Loader.Reload()
	if err != nil {
		return stats, err
	}
	a.Metrics.SetDefinitionsLoaded(stats.After)
	return stats, nil
}

type reloadFunc func() (definitions.ReloadStats, error)

func (f reloadFunc) Reload() (definitions.ReloadStats, error) { return f() }

// chatDefinitions routes chat reloads through the app so metrics stay
// current.
type chatDefinitions struct {
	*definitions.Loader
	reload reloadFunc
}

func (c chatDefinitions) Reload() (definitions.ReloadStats, error) { return c.reload() }

// HTTPHandler builds the mux for the HTTP transport: /mcp, /chat, /health,
// /ping and /metrics.
func (a *App) HTTPHandler(ctx context.Context) (http.Handler, error) {
	validator, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: a.Config.Auth.EnableVerification,
		JWKSEndpoints:      a.Config.Auth.JWKSEndpoints,
		Audience:           a.Config.Auth.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token validation: %w", err)
	}
	authn := mcpauth.NewMiddleware(validator, a.Config.Auth.EnableVerification, a.Logger).Authenticate

	mux := http.NewServeMux()
	handlers.NewHealthHandler(a.Config.Version, a.Status, a.Logger).RegisterRoutes(mux)
	handlers.NewMCPHandler(a.MCP, a.Logger.Named("mcp-http")).RegisterRoutes(mux, authn)
	handlers.RegisterMetricsRoute(mux, a.Metrics.Handler())
	if a.Config.Chat.Enabled {
		handlers.NewChatSocketHandler(a.Chat, a.Config.Chat.AllowedOrigins, a.Logger).RegisterRoutes(mux, authn)
	}

	return middleware.Chain(mux, middleware.RequestLogger(a.Logger.Named("http"))), nil
}

// Close releases connections and flushes the audit sinks.
func (a *App) Close() error {
	var errs []error
	if a.Connections != nil {
		if err := a.Connections.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connections: %w", err))
		}
	}
	if err := a.auditSink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audit sinks: %w", err))
	}
	if a.auditDB != nil {
		a.auditDB.Close()
		a.auditDB = nil
	}
	return errors.Join(errs...)
}
