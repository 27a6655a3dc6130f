package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quest/internal/asserter"
	"quest/internal/gateway"
	"quest/internal/launch"
	"quest/internal/plan"
	"quest/internal/report"
	"quest/internal/runner"
)

// pipelineBuffer bounds the runner->asserter and asserter->reporter
// channels. Small on purpose: outcomes should flow to the console promptly,
// not pile up behind a slow stage.
const pipelineBuffer = 16

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	StreamApp bool
	AppOutput bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a test plan",
		Long: `Execute a YAML test plan against an HTTP API and its database.

The plan's database is prepared (readiness wait, migrations, seed SQL), the
application under test is started if the plan declares a command, and every
test group runs in order: hooks, HTTP call, assertions.

Example:
  quest run ./plan.yaml
  quest run ./plan.yaml --verbose --stream-app`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.StreamApp, "stream-app", false, "mirror application output to stderr as it arrives")
	cmd.Flags().BoolVar(&opts.AppOutput, "app-output", false, "print captured application output after a failed run")

	return cmd
}

func runPlan(opts *RunOptions, planPath string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if !opts.Verbose {
		logLevel = slog.LevelWarn
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	slog.Info("loading plan", "path", planPath)
	p, cfg, err := plan.Load(planPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load plan", err)
	}
	slog.Info("plan loaded", "groups", len(p.Groups), "tests", p.CaseCount())

	// Setup signal handling for graceful shutdown
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("opening database", "url", cfg.DB.URL)
	gw, err := gateway.Open(cfg.DB.URL)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := gw.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if err := gw.WaitReady(ctx); err != nil {
		return WrapExitError(ExitCommandError, "database never became ready", err)
	}
	slog.Info("database ready")

	if cfg.DB.MigrationsDir != "" {
		if err := gw.ApplyMigrations(ctx, cfg.DB.MigrationsDir); err != nil {
			return WrapExitError(ExitCommandError, "migrations failed", err)
		}
	}
	if cfg.DB.InitSQL != "" {
		if err := gw.LoadInitialSQL(ctx, cfg.DB.InitSQL); err != nil {
			return WrapExitError(ExitCommandError, "initial SQL failed", err)
		}
	}

	app, err := launch.Start(&cfg.Setup, cfg.DB.URL, opts.StreamApp)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start application", err)
	}
	defer app.Stop()

	if err := launch.WaitReady(ctx, cfg.Setup.BaseURL, cfg.Setup.ReadyWhen); err != nil {
		dumpAppOutput(cmd, app)
		return WrapExitError(ExitCommandError, "application never became ready", err)
	}

	failed, err := runPipeline(ctx, gw, p, cmd, opts)
	if err != nil {
		dumpAppOutput(cmd, app)
		return WrapExitError(ExitCommandError, "run aborted", err)
	}

	if failed > 0 {
		if opts.AppOutput {
			dumpAppOutput(cmd, app)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d test(s) failed", failed))
	}
	return nil
}

// runPipeline wires runner, asserter, and reporter over bounded channels and
// waits for all three. Closing cascades from the runner: its channel close
// drains the asserter, whose close drains the reporter.
func runPipeline(ctx context.Context, gw *gateway.Gateway, p *plan.Plan, cmd *cobra.Command, opts *RunOptions) (int, error) {
	outcomes := make(chan runner.Outcome, pipelineBuffer)
	verdicts := make(chan asserter.Verdict, pipelineBuffer)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.New(gw, nil).Run(ctx, p, outcomes)
	})
	g.Go(func() error {
		return asserter.Run(ctx, outcomes, verdicts)
	})

	var failed int
	g.Go(func() error {
		failed = report.New(cmd.OutOrStdout(), !opts.NoColor).Run(verdicts)
		return nil
	})

	if err := g.Wait(); err != nil {
		return failed, err
	}
	return failed, nil
}

func dumpAppOutput(cmd *cobra.Command, app *launch.App) {
	if app == nil {
		return
	}
	lines := app.Output()
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "--- application output ---")
	for _, line := range lines {
		fmt.Fprintln(cmd.ErrOrStderr(), line)
	}
}
