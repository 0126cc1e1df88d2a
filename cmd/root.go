package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/brensch/batchfetch/internal/app"
	"github.com/brensch/batchfetch/internal/config"
	"github.com/brensch/batchfetch/internal/db"
)

var (
	// Config flags, bound in init(). Only flags the user set override the
	// file and environment layers.
	cfgFile             string
	urls                []string
	feedURLs            []string
	downloadDir         string
	extractSourceDir    string
	extractDestDir      string
	downloadConcurrency int
	extractConcurrency  int
	timeout             time.Duration
	retryAttempts       int
	retryDelay          time.Duration
	deleteAfterExtract  bool
	userAgent           string
	dbPath              string
	reportDir           string
	logFormat           string
	logLevel            string
	logOutput           string
	useTUI              bool

	// Global instances populated in PersistentPreRunE
	rootLogger *slog.Logger
	dbConn     *sql.DB
	appConfig  config.Config
	logFile    *os.File
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "batchfetch",
	Short: "Download files in concurrent batches and extract the archives among them.",
	Long: `batchfetch downloads a worklist of URLs into a directory, a few at a time,
retrying failed items and skipping files that are already complete on disk.
It then extracts every tar, tar.gz/tgz and gz archive found in the source
directory into its own subdirectory of the destination.

Each run ends with a summary per phase. The exit status is non-zero when any
item failed. Outcomes can optionally be recorded in a DuckDB ledger (--db-path)
and written as Parquet reports (--report-dir).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// --- 1. Load/Validate Config ---
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		appConfig = cfg

		// --- 2. Initialize Logger ---
		rootLogger, err = newLogger(cfg, useTUI)
		if err != nil {
			return err
		}
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Configuration loaded.", slog.Any("config", appConfig))

		// --- 3. Initialize DuckDB ledger, if configured ---
		if cfg.DbPath == "" {
			return nil
		}
		if cfg.DbPath != ":memory:" {
			dbDir := filepath.Dir(cfg.DbPath)
			if err := os.MkdirAll(dbDir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
		rootLogger.Info("Initializing DuckDB connection.", "path", cfg.DbPath)
		dbConn, err = db.Open(cmd.Context(), cfg.DbPath)
		if err != nil {
			return err
		}
		rootLogger.Debug("Database schema initialized successfully.")
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeResources()
		return nil
	},
}

// FailuresError reports that a run completed but some items failed.
type FailuresError struct {
	Count int
}

func (e *FailuresError) Error() string {
	return fmt.Sprintf("%d item(s) failed", e.Count)
}

// Execute runs the root command and exits with its status. This is called
// by main.main().
func Execute() {
	stop := exitOnSignal()
	defer stop()

	err := rootCmd.Execute()
	if err == nil {
		return
	}
	// PersistentPostRunE does not run when RunE fails.
	closeResources()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var failures *FailuresError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &failures):
		return 1
	case errors.Is(err, app.ErrInterrupted):
		return interruptedExitCode
	default:
		getLogger().Error("Command execution failed.", "error", err)
		return 1
	}
}

func closeResources() {
	if dbConn != nil {
		getLogger().Debug("Closing DuckDB connection.")
		if err := dbConn.Close(); err != nil {
			getLogger().Error("Failed to close DuckDB connection cleanly.", "error", err)
		}
		dbConn = nil
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(inspectCmd)

	d := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file; flags override its values")
	pf.StringSliceVarP(&urls, "url", "u", nil, "URL to download (can specify multiple)")
	pf.StringSliceVar(&feedURLs, "feed-url", nil, "Index page whose archive links are added to the worklist (can specify multiple)")
	pf.StringVarP(&downloadDir, "download-dir", "o", d.DownloadDir, "Directory downloads are written to")
	pf.StringVar(&extractSourceDir, "extract-source-dir", "", "Directory scanned for archives (default is --download-dir)")
	pf.StringVarP(&extractDestDir, "extract-dest-dir", "x", d.ExtractDestDir, "Directory archives are extracted into, one subdirectory per archive")
	pf.IntVar(&downloadConcurrency, "download-concurrency", d.DownloadConcurrency, "Downloads per batch")
	pf.IntVar(&extractConcurrency, "extract-concurrency", d.ExtractConcurrency, "Extractions per batch")
	pf.DurationVar(&timeout, "timeout", d.Timeout, "Probe timeout and maximum idle time while transferring")
	pf.IntVar(&retryAttempts, "retry-attempts", d.RetryAttempts, "Attempts per item, including the first (0 means 1)")
	pf.DurationVar(&retryDelay, "retry-delay", d.RetryDelay, "Delay between attempts of one item")
	pf.BoolVar(&deleteAfterExtract, "delete-after-extract", false, "Remove each archive after it was extracted successfully")
	pf.StringVar(&userAgent, "user-agent", d.UserAgent, "User-Agent header sent with every request")
	pf.StringVarP(&dbPath, "db-path", "d", "", "DuckDB event ledger path (:memory: for in-memory, empty disables)")
	pf.StringVar(&reportDir, "report-dir", "", "Directory for per-pipeline Parquet reports (empty disables)")
	pf.StringVar(&logFormat, "log-format", d.LogFormat, "Log output format (text or json)")
	pf.StringVar(&logLevel, "log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	pf.StringVar(&logOutput, "log-output", d.LogOutput, "Log output destination (stderr, stdout, or file path)")
	pf.BoolVar(&useTUI, "tui", false, "Show an interactive progress view")

	rootCmd.Version = "0.3.0"
}

// loadConfig layers defaults, the config file, .env files, BATCHFETCH_*
// variables and finally the flags the user set.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	var err error
	if cfgFile != "" {
		if cfg, err = config.LoadFile(cfg, cfgFile); err != nil {
			return config.Config{}, err
		}
	}
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, err
	}
	if cfg, err = config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return config.Config{}, err
	}
	cfg = applyFlags(cfg, flags)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyFlags(cfg config.Config, flags *pflag.FlagSet) config.Config {
	set := map[string]func(){
		"url":                  func() { cfg.URLs = urls },
		"feed-url":             func() { cfg.FeedURLs = feedURLs },
		"download-dir":         func() { cfg.DownloadDir = downloadDir },
		"extract-source-dir":   func() { cfg.ExtractSourceDir = extractSourceDir },
		"extract-dest-dir":     func() { cfg.ExtractDestDir = extractDestDir },
		"download-concurrency": func() { cfg.DownloadConcurrency = downloadConcurrency },
		"extract-concurrency":  func() { cfg.ExtractConcurrency = extractConcurrency },
		"timeout":              func() { cfg.Timeout = timeout },
		"retry-attempts":       func() { cfg.RetryAttempts = retryAttempts },
		"retry-delay":          func() { cfg.RetryDelay = retryDelay },
		"delete-after-extract": func() { cfg.DeleteAfterExtract = deleteAfterExtract },
		"user-agent":           func() { cfg.UserAgent = userAgent },
		"db-path":              func() { cfg.DbPath = dbPath },
		"report-dir":           func() { cfg.ReportDir = reportDir },
		"log-format":           func() { cfg.LogFormat = logFormat },
		"log-level":            func() { cfg.LogLevel = logLevel },
		"log-output":           func() { cfg.LogOutput = logOutput },
	}
	flags.Visit(func(f *pflag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply()
		}
	})
	return cfg
}

// newLogger builds the slog handler described by cfg. While the progress
// view owns the terminal, console logging is discarded.
func newLogger(cfg config.Config, tui bool) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var logWriter io.Writer = os.Stderr
	switch out := strings.ToLower(cfg.LogOutput); out {
	case "", "stderr":
	case "stdout":
		logWriter = os.Stdout
	default:
		f, err := os.OpenFile(cfg.LogOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.LogOutput, err)
		}
		logFile = f
		logWriter = f
	}
	if tui && logFile == nil {
		logWriter = io.Discard
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		handler = slog.NewJSONHandler(logWriter, opts)
	} else {
		handler = slog.NewTextHandler(logWriter, opts)
	}
	return slog.New(handler), nil
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return rootLogger
}

func getDB() *sql.DB {
	return dbConn
}

func getConfig() config.Config {
	return appConfig
}
