package commands

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
)

const (
	envIdentifier = "PROPERTYHUB_IDENTIFIER"
	envPassword   = "PROPERTYHUB_PASSWORD"
)

// NewLoginCmd creates the login command
func NewLoginCmd(opts *Options) *cobra.Command {
	var identifier, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a propertyhub API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts, identifier, password)
		},
	}

	cmd.Flags().StringVar(&identifier, "email", "", "Email address (or set PROPERTYHUB_IDENTIFIER)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set PROPERTYHUB_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(cmd *cobra.Command, opts *Options, identifier, password string) error {
	// Check for environment variables (useful for CI/CD)
	if identifier == "" {
		identifier = os.Getenv(envIdentifier)
	}
	if password == "" {
		password = os.Getenv(envPassword)
	}

	if identifier == "" {
		return fmt.Errorf("email is required (use --email flag or %s env var)", envIdentifier)
	}

	env, err := openSession(opts)
	if err != nil {
		return err
	}
	defer env.Close()

	if password == "" {
		password, err = readPassword(envPassword)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(env.out, "Logging in to %s...\n", describeEndpoint(env.endpoint))

	user, err := env.auth.Login(cmd.Context(), client.LoginRequest{Identifier: identifier, Password: password})
	if err != nil {
		return fmt.Errorf("login failed: %w", friendlyError(err))
	}

	fmt.Fprintln(env.out, "✓ Login successful!")
	printUser(env.out, user)
	return nil
}

// readPassword prompts on the terminal; piped input must use the flag or env var
func readPassword(envVar string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or %s env var)", envVar)
	}

	fmt.Print("Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}
