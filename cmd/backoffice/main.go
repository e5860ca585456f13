package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/config"
	"github.com/foxzi/backoffice/internal/session"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

const defaultConfigFile = "/etc/backoffice/config.yaml"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "backoffice",
	Short: "Backoffice - admin console for the audit trail and role permissions",
	Long: `Backoffice is an operator console for the admin REST API. It serves a web
console and offers the same views on the command line: audit logs, login
history and role permissions.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("backoffice version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "config file path")
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(format string, level slog.Level, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// cliEnv is what every backend-facing command needs: the config, the
// session file and a client reading the CLI's session from it.
type cliEnv struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions *session.BoltDB
	store    *session.BoltStore
	client   *backend.Client
}

func openCLI() (*cliEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	sessions, err := session.OpenBolt(cfg.Session.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	// CLI logs go to stderr at warn and above unless debug was asked for.
	level := slog.LevelWarn
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := newLogger("text", level, os.Stderr)

	store := sessions.Store(session.CLIKey)
	client := backend.NewClient(cfg.Backend.BaseURL, store,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithLoginPath(cfg.Backend.LoginPath),
		backend.WithLogger(logger),
		backend.WithExpiredHook(func(ctx context.Context) {
			fmt.Fprintln(os.Stderr, "Session expired. Run 'backoffice login' to sign in again.")
		}),
	)

	return &cliEnv{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		store:    store,
		client:   client,
	}, nil
}

func (e *cliEnv) Close() error {
	return e.sessions.Close()
}

// authError turns a missing session into an actionable message.
func authError(err error) error {
	if backend.IsAuthError(err) {
		return fmt.Errorf("not logged in: run 'backoffice login' (%w)", err)
	}
	return err
}
