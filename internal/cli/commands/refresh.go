package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
)

// NewRefreshCmd creates the refresh command
func NewRefreshCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token of the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openSession(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			if !env.service.IsAuthenticated() {
				return friendlyError(client.ErrUnauthorized)
			}

			st := env.startVerified(cmd.Context())
			if !st.IsAuthenticated() {
				return sessionError(st)
			}

			if err := env.auth.RefreshIfNeeded(cmd.Context()); err != nil {
				return fmt.Errorf("refresh failed: %w", friendlyError(err))
			}

			fmt.Fprintln(env.out, "✓ Session refreshed")
			return nil
		},
	}
}
