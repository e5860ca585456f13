package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/session"
)

var (
	loginUsername string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session for later commands",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed in admin",
	RunE:  runWhoami,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Username or email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted if not provided)")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	env, err := openCLI()
	if err != nil {
		return err
	}
	defer env.Close()

	reader := bufio.NewReader(os.Stdin)

	username := loginUsername
	if username == "" {
		fmt.Print("Username or email: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	password := loginPassword
	if password == "" {
		password, err = readPassword(reader)
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	resp, err := env.client.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, backend.ErrInvalidCredentials) {
			return fmt.Errorf("invalid username or password")
		}
		return fmt.Errorf("login failed: %w", err)
	}

	sess, err := session.New(resp.Token, resp.Role, resp.Username, resp.UserID)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := env.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	fmt.Printf("Logged in as %s (%s)\n", sess.Username, sess.Role)
	return nil
}

// readPassword prompts without echo on a terminal and reads a plain line
// otherwise, so the password can be piped in.
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pwBytes), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	env, err := openCLI()
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.store.Clear(context.Background()); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	fmt.Println("Logged out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	env, err := openCLI()
	if err != nil {
		return err
	}
	defer env.Close()

	sess, err := env.store.Load(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		fmt.Println("Not logged in")
		return nil
	}

	fmt.Printf("Username: %s\n", sess.Username)
	fmt.Printf("Role:     %s\n", sess.Role)
	if sess.UserID != "" {
		fmt.Printf("User ID:  %s\n", sess.UserID)
	}
	if sess.ExpiresAt != nil {
		state := "valid"
		if sess.Expired(time.Now()) {
			state = "expired"
		}
		fmt.Printf("Expires:  %s (%s)\n", sess.ExpiresAt.Local().Format(time.RFC3339), state)
	}
	return nil
}
