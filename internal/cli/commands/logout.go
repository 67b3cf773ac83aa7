package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openSession(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			// Server errors are logged by the session service; local state is always cleared
			env.auth.Logout(cmd.Context())
			fmt.Fprintf(env.out, "✓ Logged out of %s\n", describeEndpoint(env.endpoint))
			return nil
		},
	}
}
