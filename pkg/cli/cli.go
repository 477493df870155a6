// Package cli provides the ekaya-sqlbot command line: serve, validate, run
// and tools.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/app"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/config"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/definitions"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

const shutdownTimeout = 10 * time.Second

// ErrQueryFailed is returned by run when the engine reports a failure. The
// envelope has already been printed.
var ErrQueryFailed = errors.New("query failed")

// CLI holds the command tree and global flags.
type CLI struct {
	rootCmd *cobra.Command
	version string

	queriesDir string
	stdin      io.Reader
}

// New creates a new CLI instance.
func New(version string) *CLI {
	c := &CLI{version: version, stdin: os.Stdin}
	c.rootCmd = c.newRootCmd()
	return c
}

// Command returns the root command, mainly for tests.
func (c *CLI) Command() *cobra.Command {
	return c.rootCmd
}

// Execute runs the CLI and returns the process exit code.
func (c *CLI) Execute() int {
	if err := c.rootCmd.Execute(); err != nil {
		if !errors.Is(err, ErrQueryFailed) {
			fmt.Fprintln(c.rootCmd.ErrOrStderr(), "Error:", err)
		}
		return 1
	}
	return 0
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ekaya-sqlbot",
		Short: "Serve pre-defined SQL queries to chat users and MCP clients",
		Long: `ekaya-sqlbot loads parameterized SQL query definitions from a directory
and runs them on request, through a chat socket or as Model Context Protocol
tools. Without a subcommand it runs "serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&c.queriesDir, "queries", "", "query definitions directory (overrides QUERY_DEFINITIONS_PATH)")

	cmd.AddCommand(c.newServeCmd())
	cmd.AddCommand(c.newValidateCmd())
	cmd.AddCommand(c.newRunCmd())
	cmd.AddCommand(c.newToolsCmd())
	cmd.AddCommand(c.newVersionCmd())
	return cmd
}

// loadConfig reads configuration, applying the --queries flag first so it
// takes part in validation.
func (c *CLI) loadConfig() (*config.Config, error) {
	if c.queriesDir != "" {
		if err := os.Setenv("QUERY_DEFINITIONS_PATH", c.queriesDir); err != nil {
			return nil, err
		}
	}
	return config.Load(c.version)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dir:    cfg.Logging.Dir,
	})
}

func (c *CLI) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tool server (stdio or HTTP, per MCP_TRANSPORT)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd)
		},
	}
}

func (c *CLI) runServe(cmd *cobra.Command) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("Shutdown cleanup failed", zap.Error(err))
		}
	}()

	logger.Info("Starting ekaya-sqlbot",
		zap.String("version", cfg.Version),
		zap.String("transport", cfg.MCP.Transport),
		zap.Int("queries_loaded", a.Loader.Count()),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification))

	if cfg.MCP.Transport == config.TransportStdio {
		return a.MCP.ServeStdio(ctx, c.stdin, cmd.OutOrStdout())
	}
	return serveHTTP(ctx, a, logger)
}

func serveHTTP(ctx context.Context, a *app.App, logger *zap.Logger) error {
	handler, err := a.HTTPHandler(ctx)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.Config.MCP.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load every query definition and report problems",
		Long: `Load the query definitions directory exactly as the server would and
print one line per query. Exits non-zero on the first invalid file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			loader := definitions.NewLoader(cfg.QueryDefinitionsPath, zap.NewNop())
			if err := loader.Load(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			entries := loader.GetAll()
			for _, e := range entries {
				d := e.Definition
				fmt.Fprintf(out, "%-32s %-24q db=%s params=%d ttl=%ds\n",
					e.ID, d.Trigger, d.Database, len(d.Parameters), d.CacheTTLSeconds)
			}
			fmt.Fprintf(out, "%d queries valid in %s\n", len(entries), loader.Dir())
			return nil
		},
	}
}

func (c *CLI) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <query-id> [name=value...]",
		Short: "Execute one query and print the result envelope as JSON",
		Example: `  ekaya-sqlbot run account_lookup account_name=acme
  ekaya-sqlbot run metric_beacon_impressions beacon_id=42 start_date=2025-01-01`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := app.New(cmd.Context(), cfg, logger, app.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			def, ok := a.Loader.GetByID(args[0])
			if !ok {
				return fmt.Errorf("unknown query: %s", args[0])
			}

			ec := models.NewExecutionContext(models.InterfaceCLI, currentUser())
			result := a.Executor.Execute(cmd.Context(), def, params, ec)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return ErrQueryFailed
			}
			return nil
		},
	}
}

// parseParams turns name=value arguments into a parameter map.
func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected name=value", arg)
		}
		params[name] = value
	}
	return params, nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func (c *CLI) newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the MCP tool schemas generated from the query definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			loader := definitions.NewLoader(cfg.QueryDefinitionsPath, zap.NewNop())
			if err := loader.Load(); err != nil {
				return err
			}

			specs, errs := tools.NewConverter(cfg.ToolGroups).ConvertAll(loader.GetAll())
			if len(errs) > 0 {
				return errors.Join(errs...)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(specs)
		},
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ekaya-sqlbot", c.version)
		},
	}
}
