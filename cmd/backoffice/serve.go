package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foxzi/backoffice/internal/web/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web console",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging.Format, parseLogLevel(cfg.Logging.Level), os.Stdout)
	slog.SetDefault(logger)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down...")
	}()

	return srv.Run(ctx)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Backend:        %s (login %s, timeout %s)\n", cfg.Backend.BaseURL, cfg.Backend.LoginPath, cfg.Backend.Timeout)
	fmt.Printf("  Sessions:       %s (ttl %s)\n", cfg.Session.Path, cfg.Session.TTL)
	fmt.Printf("  Audit:          page size %d, %d parallel lookups\n", cfg.Audit.PageSize, cfg.Audit.LookupConcurrency)
	fmt.Printf("  Logging:        %s/%s\n", cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.ListenAddr
		if addr == "" {
			addr = cfg.Server.ListenAddr
		}
		fmt.Printf("  Metrics:        %s%s\n", addr, cfg.Metrics.Path)
	} else {
		fmt.Println("  Metrics:        disabled")
	}

	return nil
}
