package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/propertyhub-dev/propertyhub/internal/cli/guard"
)

// NewCanCmd creates the can command
func NewCanCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "can <path>",
		Short: "Check whether the signed-in account may open a page",
		Long: `Check whether the signed-in account may open a page.

Examples:
  $ propertyhub can /properties/add
  $ propertyhub can /admin/users`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openSession(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			st := env.startVerified(cmd.Context())
			printDecision(env.out, args[0], guard.New().Check(st, args[0]))
			return nil
		},
	}
}

func printDecision(w io.Writer, path string, d guard.Decision) {
	switch d.Outcome {
	case guard.Allow:
		fmt.Fprintf(w, "✓ %s: allowed\n", path)
	case guard.Forbidden:
		fmt.Fprintf(w, "✗ %s: forbidden for this account\n", path)
	default:
		fmt.Fprintf(w, "→ %s: redirect to %s\n", path, d.Redirect)
	}
}
