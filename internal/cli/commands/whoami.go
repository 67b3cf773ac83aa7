package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/propertyhub-dev/propertyhub/internal/cli/authctx"
	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
)

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(opts *Options) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Long: `Show the signed-in account.

The stored profile is checked against the API first. If the API cannot be
reached the stored profile is shown and marked as unverified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openSession(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			if offline {
				user := env.service.StoredUser()
				if user == nil {
					return friendlyError(client.ErrUnauthorized)
				}
				printUser(env.out, user)
				fmt.Fprintln(env.out, "  Status: stored (not checked)")
				return nil
			}

			st := env.startVerified(cmd.Context())
			if !st.IsAuthenticated() {
				return sessionError(st)
			}

			printUser(env.out, st.User)
			if st.Phase == authctx.PhaseVerified {
				fmt.Fprintln(env.out, "  Status: verified")
			} else {
				fmt.Fprintln(env.out, "  Status: unverified (API unreachable, showing stored profile)")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Show the stored profile without contacting the API")
	return cmd
}
