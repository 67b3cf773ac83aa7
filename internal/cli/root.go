package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/propertyhub-dev/propertyhub/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the command tree around opts
func NewRootCmd(opts *commands.Options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "propertyhub",
		Short: "propertyhub - sign in to the property listings API",
		Long: `propertyhub CLI - manage your propertyhub session from the terminal.

Sign in as a buyer, agent or admin, see the menu your role unlocks and
check which pages your account can open.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.BindFlags(rootCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "propertyhub version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewInitCmd(opts))
	rootCmd.AddCommand(commands.NewUseCmd(opts))
	rootCmd.AddCommand(commands.NewRegisterCmd(opts))
	rootCmd.AddCommand(commands.NewLoginCmd(opts))
	rootCmd.AddCommand(commands.NewLogoutCmd(opts))
	rootCmd.AddCommand(commands.NewWhoamiCmd(opts))
	rootCmd.AddCommand(commands.NewRefreshCmd(opts))
	rootCmd.AddCommand(commands.NewMenuCmd(opts))
	rootCmd.AddCommand(commands.NewCanCmd(opts))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCmd(&commands.Options{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
