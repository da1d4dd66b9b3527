// Package cli is the deployer's command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/config"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/logging"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/telemetry"
)

// Version information set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

type App struct {
	root       *cobra.Command
	stdout     io.Writer
	stderr     io.Writer
	configPath string
}

func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	app.root = &cobra.Command{
		Use:   "deployer",
		Short: "Deploy a server-rendered web app behind a CDN",
		Long: `deployer builds the app, syncs its static and cache artifacts into object
storage, packages the server, image and revalidation functions, and submits
the resulting desired state to the reconciling platform.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	app.root.PersistentFlags().StringVar(&app.configPath, "config", "", "YAML config file (defaults to $DEPLOY_CONFIG)")
	app.root.AddCommand(
		app.newVersionCmd(),
		app.newDeployCmd(),
		app.newPlanCmd(),
		app.newRoutesCmd(),
		app.newWorkerCmd(),
		app.newDestroyCmd(),
	)
	return app
}

func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return a.root.ExecuteContext(ctx)
}

func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "deployer version %s\n", Version)
			fmt.Fprintf(a.stdout, "  Git commit: %s\n", GitCommit)
		},
	}
}

// env is what every command that touches infrastructure starts from.
type env struct {
	cfg      config.Config
	logger   hclog.Logger
	shutdown telemetry.ShutdownFunc
}

func (a *App) setup() (*env, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON, Output: a.stderr})
	shutdown, err := telemetry.Setup(telemetry.Config{
		ServiceName:    "deployer",
		ServiceVersion: Version,
		Stdout:         cfg.OTelStdout,
		Writer:         a.stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return &env{cfg: cfg, logger: logger, shutdown: shutdown}, nil
}

func (e *env) close(ctx context.Context) {
	if err := e.shutdown(ctx); err != nil {
		e.logger.Warn("telemetry shutdown", "error", err)
	}
}
