// Command cookiescope watches Chrome for cookie issues, classifies recorded
// Audits events, and reports on third-party cookies.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cookiescope/internal/config"
	"cookiescope/internal/entities"
	"cookiescope/internal/issues"
	"cookiescope/internal/logging"
	"cookiescope/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	workspace string
	timeout   time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cookiescope",
	Short: "Classify and track Chrome cookie issues",
	Long: `cookiescope turns the cookie issues Chrome reports through the DevTools
Audits domain into stable issue codes, groups them, and keeps a per-workspace
history of what it has seen.

Live pages are watched through the Chrome DevTools Protocol; recorded
Audits.issueAdded events can be classified offline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		if err := logging.Initialize(ws); err != nil {
			logger.Warn("file logging disabled", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit trail disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Timeout for one-shot commands (0 disables)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(codesCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the --workspace flag or the current directory.
func resolveWorkspace() (string, error) {
	if workspace != "" {
		return workspace, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return cwd, nil
}

// loadConfig reads and validates the workspace config.
func loadConfig() (*config.Config, string, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(config.DefaultPath(ws))
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, ws, nil
}

func openStore(cfg *config.Config, ws string) (*store.IssueStore, error) {
	path := config.ResolvePath(ws, cfg.Store.Path)
	s, err := store.NewIssueStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open issue store %s: %w", path, err)
	}
	return s, nil
}

// entityResolver returns the configured entity table, watched for changes when the
// config asks for it. The returned stop function must be called when done.
func entityResolver(ctx context.Context, cfg *config.Config, ws string) (issues.EntityResolver, func(), error) {
	path := config.ResolvePath(ws, cfg.Entities.Path)
	if path == "" {
		return entities.Default(), func() {}, nil
	}
	if !cfg.Entities.Watch {
		t, err := entities.Load(path)
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	}
	w, err := entities.NewWatcher(path)
	if err != nil {
		return nil, nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, nil, err
	}
	return w, w.Stop, nil
}

// commandContext bounds a one-shot command by --timeout. Zero disables the bound.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(cmdContext(cmd))
	}
	return context.WithTimeout(cmdContext(cmd), timeout)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
