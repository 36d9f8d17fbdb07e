package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/brensch/deccp/internal/app"
	"github.com/brensch/deccp/internal/archive"
	"github.com/brensch/deccp/internal/config"
	"github.com/brensch/deccp/internal/db"
	"github.com/brensch/deccp/internal/decode"
	"github.com/brensch/deccp/internal/orchestrator"
	"github.com/brensch/deccp/internal/pool"
	"github.com/brensch/deccp/internal/selector"
)

var (
	// Persistent flags
	cfgFile   string
	logFormat string
	logLevel  string
	logOutput string

	// Run-only flags; values reach the config through config.Load.
	useTUI bool

	// Global instances populated in PersistentPreRunE
	rootLogger *slog.Logger
	dbConn     *sql.DB
	appConfig  *config.Config
	logFile    *os.File
)

// rootCmd decompiles an archive when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "deccp <archive>",
	Short: "Decompile the zlib-compressed bytecode members of a code archive.",
	Long: `deccp reads a ZIP archive (typically code.ccp) of zlib-compressed bytecode members,
decompiles every member that has no output yet with a pool of workers, and writes the
recovered sources to <out>/client_code/. Failures are collected in
<out>/decompile_errors.json. Re-running skips members whose output already exists.

Optionally every event is recorded in a DuckDB database (--db-path), which the
'state' and 'export' commands read back.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// --- 1. Initialize Logger ---
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = cmd.ErrOrStderr()
		switch strings.ToLower(logOutput) {
		case "", "stderr":
		case "stdout":
			logWriter = cmd.OutOrStdout()
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logFile = f
			logWriter = f
		}
		// The progress view owns the terminal.
		if useTUI && logFile == nil {
			logWriter = io.Discard
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", level.String(), "format", logFormat, "output", logOutput)

		// --- 2. Load Config (defaults < file < env < flags) ---
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		appConfig = cfg
		rootLogger.Debug("Configuration loaded", slog.Any("config", *appConfig))

		// --- 3. Initialize DuckDB event log (optional) ---
		if appConfig.DbPath == "" {
			return nil
		}
		if appConfig.DbPath != ":memory:" {
			dbDir := filepath.Dir(appConfig.DbPath)
			if err := os.MkdirAll(dbDir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
		rootLogger.Debug("Initializing DuckDB connection", "path", appConfig.DbPath)
		dbConn, err = db.Open(cmd.Context(), appConfig.DbPath)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeResources()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		cfg.Archive = args[0]
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		dec, err := decode.NewExecDecompiler(cfg.Decompiler)
		if err != nil {
			return err
		}
		deps := orchestrator.Deps{Decompiler: dec}
		if conn := getDB(); conn != nil {
			eventLog := db.NewEventLog(conn)
			deps.Recorder = eventLog
			deps.History = eventLog
			deps.RunID = eventLog.RunID
		}

		if useTUI {
			return runWithProgressView(cmd.Context(), cmd.ErrOrStderr(), cfg, deps, logger)
		}
		_, err = orchestrator.RunDecompile(cmd.Context(), cfg, deps, logger)
		return err
	},
}

func runWithProgressView(ctx context.Context, w io.Writer, cfg *config.Config, deps orchestrator.Deps, logger *slog.Logger) error {
	run := func(obs orchestrator.Observer) (orchestrator.Summary, error) {
		d := deps
		d.Observer = obs
		return orchestrator.RunDecompile(ctx, cfg, d, logger)
	}
	model := app.NewAppModel("deccp "+filepath.Base(cfg.Archive), run, logger)
	_, viewErr := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if errors.Is(viewErr, tea.ErrProgramKilled) || errors.Is(viewErr, tea.ErrInterrupted) {
		viewErr = nil
	}

	// Closing the view does not stop the run; wait for it to drain.
	finishedInView := model.Finished()
	model.Detach()
	summary, runErr := model.Wait()
	if viewErr != nil {
		return errors.Join(fmt.Errorf("progress view failed: %w", viewErr), runErr)
	}
	if runErr == nil && !finishedInView {
		fmt.Fprintf(w, "Run %s finished after the progress view closed: %d decompiled, %d failed, %d skipped.\n",
			summary.RunID, summary.Succeeded, summary.Failed, summary.Skipped)
		if summary.ErrorsPath != "" {
			fmt.Fprintf(w, "Errors written to %s.\n", summary.ErrorsPath)
		}
	}
	return runErr
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		closeResources()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(statsCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, toml or json); DECCP_* environment variables also apply")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")
	rootCmd.PersistentFlags().StringP("db-path", "d", "", "Path to DuckDB event log database (:memory: for in-memory, empty disables it)")

	d := config.Default()
	rootCmd.Flags().StringP("out", "o", "", "Output root (default: the archive's directory)")
	rootCmd.Flags().IntP("jobs", "j", pool.DefaultWorkers, "Number of concurrent decompile workers")
	rootCmd.Flags().String("suffix", archive.DefaultUnitSuffix, "Suffix of the archive members to decompile")
	rootCmd.Flags().String("target-suffix", selector.DefaultTargetSuffix, "Suffix of the written source files")
	rootCmd.Flags().String("decompiler", d.Decompiler, "Decompiler command; {file} is replaced by the staged bytecode path")
	rootCmd.Flags().Duration("timeout", d.ItemTimeout, "Per-entry decompiler timeout (0 disables it)")
	rootCmd.Flags().Bool("scan-zlib", false, "Search past leading bytes for a zlib stream when direct decompression fails")
	rootCmd.Flags().Bool("keep-intermediate", false, "Also write decompressed bytecode to <out>/decompressed/")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "Show an interactive progress view instead of log lines")

	rootCmd.Version = "0.1.0"
}

func closeResources() {
	if dbConn != nil {
		if err := dbConn.Close(); err != nil {
			getLogger().Error("Failed to close DuckDB connection cleanly", "error", err)
		}
		dbConn = nil
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// getLogger returns the root logger, or a discarding logger before PersistentPreRunE ran.
func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getDB() *sql.DB {
	return dbConn
}

func getConfig() *config.Config {
	if appConfig == nil {
		return config.Default()
	}
	return appConfig
}

func requireDB() (*sql.DB, error) {
	conn := getDB()
	if conn == nil {
		return nil, errors.New("no event log configured: pass --db-path or set db_path in the config")
	}
	return conn, nil
}
