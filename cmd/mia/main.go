// Package main provides the mia binary entry point.
// mia refines a symbolic research roadmap by alternating generation,
// web lookups and peer review against a local language model.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	// Register LLM providers via init()
	_ "github.com/cicciopanzer27/mia/llm/providers"

	"github.com/cicciopanzer27/mia/config"
	"github.com/cicciopanzer27/mia/llm"
	"github.com/cicciopanzer27/mia/roadmap"
	"github.com/cicciopanzer27/mia/storage"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mia"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorMessage(err))
		os.Exit(1)
	}
}

// errorMessage tells a generation outage that may pass on its own apart
// from one that needs the configuration fixed.
func errorMessage(err error) string {
	ge, ok := llm.IsGenerationError(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}
	if ge.Transient() {
		return fmt.Sprintf("Error: generation service unavailable (%s), try again later: %v", ge.Kind, err)
	}
	return fmt.Sprintf("Error: generation service failed (%s), check the model configuration: %v", ge.Kind, err)
}

type globalOptions struct {
	configPath string
	logLevel   string
}

type runOptions struct {
	cycles      int
	metricsAddr string
}

func rootCmd() *cobra.Command {
	var (
		global globalOptions
		run    runOptions
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Symbolic roadmap refinement",
		Long: `mia grows a roadmap of focus symbols and open questions.

Each cycle it asks the model to answer the first open question, looks the
focus symbols up on the web, asks the model to review its own answer
against those sources, and merges the new symbols and questions into the
roadmap file. The loop stops after the configured number of cycles or as
soon as a review raises no open questions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, global, run)
		},
	}

	cmd.PersistentFlags().StringVarP(&global.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&global.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	addRunFlags(cmd, &run)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run refinement cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, global, run)
		},
	}
	addRunFlags(runCmd, &run)

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the symbolic export",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, global, exportPath)
		},
	}
	exportCmd.Flags().StringVarP(&exportPath, "out", "o", "", "Export file path (default from config)")

	var historyCycle int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List roadmap snapshots stored in NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, global, historyCycle)
		},
	}
	historyCmd.Flags().IntVar(&historyCycle, "cycle", -1, "Print the summary of one cycle's snapshot")

	var initConfig bool
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, global, initConfig)
		},
	}
	configCmd.Flags().BoolVar(&initConfig, "init", false, "Create the user config file with defaults")

	cmd.AddCommand(
		runCmd,
		&cobra.Command{
			Use:   "show",
			Short: "Print a roadmap summary",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runShow(cmd, global)
			},
		},
		exportCmd,
		&cobra.Command{
			Use:   "watch",
			Short: "Print a summary every time the roadmap file changes",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWatch(cmd, global)
			},
		},
		historyCmd,
		configCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().IntVarP(&opts.cycles, "cycles", "n", 0, "Maximum number of cycles (default from config)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func newLogger(level string, w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// setup loads the layered config and builds the logger it asks for. The
// --log-level flag wins over the config file.
func setup(cmd *cobra.Command, global globalOptions) (*config.Config, *slog.Logger, error) {
	bootstrap := newLogger(global.logLevel, cmd.ErrOrStderr())
	cfg, err := config.NewLoader(bootstrap).Load(global.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if global.logLevel != "" {
		cfg.Log.Level = global.logLevel
	}
	logger := newLogger(cfg.Log.Level, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runLoop(cmd *cobra.Command, global globalOptions, opts runOptions) error {
	cfg, logger, err := setup(cmd, global)
	if err != nil {
		return err
	}
	if opts.cycles > 0 {
		cfg.Cycle.MaxCycles = opts.cycles
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("Failed to close publisher", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	final, err := serveAndRun(ctx, app, cfg.Metrics.Addr, logger)
	if final != nil {
		printSummary(cmd.OutOrStdout(), final)
	}
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("Interrupted, roadmap kept at last completed cycle")
		return nil
	}
	return err
}

// serveAndRun runs the loop and, when addr is set, a /metrics server that
// is shut down as soon as the loop returns.
func serveAndRun(ctx context.Context, app *App, addr string, logger *slog.Logger) (*roadmap.Roadmap, error) {
	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.MetricsHandler())
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("Serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	var final *roadmap.Roadmap
	g.Go(func() error {
		defer func() {
			if srv == nil {
				return
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		r, err := app.Run(gctx)
		final = r
		return err
	})

	err := g.Wait()
	return final, err
}

func runShow(cmd *cobra.Command, global globalOptions) error {
	cfg, logger, err := setup(cmd, global)
	if err != nil {
		return err
	}
	r, err := roadmap.NewStore(cfg.Roadmap.Path, roadmap.WithLogger(logger)).Load()
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), r)
	return nil
}

func runExport(cmd *cobra.Command, global globalOptions, out string) error {
	cfg, logger, err := setup(cmd, global)
	if err != nil {
		return err
	}
	if out == "" {
		out = cfg.Roadmap.ExportPath
	}

	store := roadmap.NewStore(cfg.Roadmap.Path, roadmap.WithLogger(logger))
	r, err := store.Load()
	if err != nil {
		return err
	}
	exp, err := store.WriteExport(r, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d symbols and %d questions to %s\n",
		exp.Metadata.TotalSymbols, exp.Metadata.TotalQuestions, out)
	return nil
}

func runWatch(cmd *cobra.Command, global globalOptions) error {
	cfg, logger, err := setup(cmd, global)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := roadmap.NewWatcher(cfg.Roadmap.Path, roadmap.DefaultDebounce, logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", cfg.Roadmap.Path)
	for snap := range w.Snapshots() {
		if snap.Err != nil {
			logger.Warn("Roadmap changed but could not be read", "error", snap.Err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n[%s]\n", time.Now().Format(time.TimeOnly))
		printSummary(cmd.OutOrStdout(), snap.Roadmap)
	}
	if n := w.DroppedSnapshots(); n > 0 {
		logger.Warn("Some roadmap changes were not printed", "dropped", n)
	}
	return nil
}

func runHistory(cmd *cobra.Command, global globalOptions, cycle int) error {
	cfg, logger, err := setup(cmd, global)
	if err != nil {
		return err
	}
	if cfg.NATS.URL == "" || cfg.NATS.Bucket == "" {
		return errors.New("snapshot history requires nats.url and nats.bucket")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	snapshots, err := storage.Open(ctx, cfg.NATS.URL, cfg.NATS.Bucket, logger)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	out := cmd.OutOrStdout()
	if cycle >= 0 {
		snap, err := snapshots.Get(ctx, cycle)
		if err != nil {
			return fmt.Errorf("cycle %d: %w", cycle, err)
		}
		fmt.Fprintf(out, "Snapshot %s (revision %d)\n", snap.Key, snap.Revision)
		printSummary(out, snap.Roadmap)
		return nil
	}

	cycles, err := snapshots.Cycles(ctx)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintf(out, "No snapshots in %s\n", cfg.NATS.Bucket)
		return nil
	}
	for _, n := range cycles {
		snap, err := snapshots.Get(ctx, n)
		if err != nil {
			logger.Warn("Snapshot unreadable", "cycle", n, "error", err)
			continue
		}
		fmt.Fprintf(out, "cycle %d: %d symbols, %d open questions (revision %d, %s)\n",
			n, snap.Roadmap.Symbols.Len(), len(snap.Roadmap.OpenQuestions), snap.Revision,
			snap.Stored.Format(time.RFC3339))
	}
	return nil
}

func runConfig(cmd *cobra.Command, global globalOptions, initUser bool) error {
	if initUser {
		path, err := config.NewLoader(newLogger(global.logLevel, cmd.ErrOrStderr())).EnsureUserConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User config: %s\n", path)
		return nil
	}

	cfg, _, err := setup(cmd, global)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
