package commands

import (
	"fmt"
	"io"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/propertyhub-dev/propertyhub/internal/cli/authctx"
	"github.com/propertyhub-dev/propertyhub/internal/cli/guard"
	"github.com/propertyhub-dev/propertyhub/internal/cli/menu"
)

// NewMenuCmd creates the menu command
func NewMenuCmd(opts *Options) *cobra.Command {
	var pick bool

	cmd := &cobra.Command{
		Use:   "menu",
		Short: "Show the navigation available to the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openSession(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			st := env.startVerified(cmd.Context())
			if !pick {
				printMenu(env.out, st)
				return nil
			}

			entry, err := promptMenuEntry(entriesFor(st))
			if err != nil {
				return err
			}
			printDecision(env.out, entry.Path, guard.New().Check(st, entry.Path))
			return nil
		},
	}

	cmd.Flags().BoolVar(&pick, "pick", false, "Choose an entry interactively and check whether it can be opened")
	return cmd
}

// entriesFor lists the role menu followed by the fixed links
func entriesFor(st authctx.State) []menu.Entry {
	var entries []menu.Entry
	if role, ok := st.Role(); ok {
		entries = menu.Resolve(role)
	}
	return append(entries, menu.NavLinks()...)
}

func printMenu(w io.Writer, st authctx.State) {
	fmt.Fprintln(w, "Navigation:")
	for _, link := range menu.NavLinks() {
		fmt.Fprintf(w, "  %-20s %s\n", link.Label, link.Path)
	}

	if !st.IsAuthenticated() {
		if st.Expired {
			fmt.Fprintln(w, "\nSession expired. Run 'propertyhub login' to see your menu.")
		} else {
			fmt.Fprintln(w, "\nNot logged in. Run 'propertyhub login' to see your menu.")
		}
		return
	}

	entries := menu.ResolveString(st.User.Role)
	if len(entries) == 0 {
		fmt.Fprintf(w, "\nNo menu for role '%s'\n", st.User.Role)
		return
	}

	fmt.Fprintf(w, "\nMenu (%s):\n", st.User.Role)
	for _, e := range entries {
		fmt.Fprintf(w, "  %-20s %-20s [%s]\n", e.Label, e.Path, e.Icon)
	}
	if st.Phase != authctx.PhaseVerified {
		fmt.Fprintln(w, "\n(role from stored profile, not yet verified)")
	}
}

func promptMenuEntry(entries []menu.Entry) (*menu.Entry, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }} {{ .Path | faint }}",
		Inactive: "  {{ .Label }} {{ .Path | faint }}",
		Selected: "{{ .Label | green }}",
	}

	prompt := promptui.Select{
		Label:     "Go to",
		Items:     entries,
		Templates: templates,
		Size:      10,
	}

	index, _, err := prompt.Run()
	if err != nil {
		return nil, fmt.Errorf("selection cancelled: %w", err)
	}
	return &entries[index], nil
}
