package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/backoffice/internal/session"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale and expired sessions",
	RunE:  runCleanup,
}

var (
	cleanupOlderThan time.Duration
	cleanupDryRun    bool
)

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Delete sessions saved longer ago than this (default: session.ttl)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be deleted without actually deleting")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sessions, err := session.OpenBolt(cfg.Session.Path)
	if err != nil {
		return fmt.Errorf("failed to open session storage: %w", err)
	}
	defer sessions.Close()

	age := cleanupOlderThan
	if age == 0 {
		age = cfg.Session.TTL
	}

	if cleanupDryRun {
		fmt.Println("Dry run mode - no data will be deleted")
		fmt.Println()
	}

	n, err := sessions.Purge(time.Now().Add(-age), cleanupDryRun)
	if err != nil {
		return fmt.Errorf("failed to cleanup sessions: %w", err)
	}

	fmt.Printf("Sessions older than %s or expired: %d\n", age, n)
	if !cleanupDryRun {
		fmt.Printf("  Deleted: %d\n", n)
		fmt.Println("\nCleanup completed")
	}
	return nil
}
