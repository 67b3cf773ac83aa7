package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/propertyhub-dev/propertyhub/internal/cli/config"
	"github.com/propertyhub-dev/propertyhub/internal/cli/credstore"
	"github.com/propertyhub-dev/propertyhub/internal/cli/endpoint"
	"github.com/propertyhub-dev/propertyhub/internal/cli/userconfig"
)

// NewUseCmd creates the use command
func NewUseCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use [url-or-alias]",
		Short: "Select the API endpoint to use for commands",
		Long: `Select the API endpoint to use for commands.

If no param is provided, an interactive prompt over the endpoints in
propertyhub.yaml will be shown. Each endpoint keeps its own session.

Examples:
  $ propertyhub use                        # Interactive selection
  $ propertyhub use http://localhost:8080  # Select by URL
  $ propertyhub use production             # Select by alias

With --credential-store the backend is remembered for later commands too:
  $ propertyhub use production --credential-store file`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var urlOrAlias string
			if len(args) > 0 {
				urlOrAlias = args[0]
			}
			return runUse(opts, urlOrAlias)
		},
	}

	return cmd
}

func runUse(opts *Options, urlOrAlias string) error {
	projectConfig, err := config.LoadFromCurrentDir()
	if err != nil && urlOrAlias == "" {
		return fmt.Errorf("failed to load config: %w\nRun 'propertyhub init <url>' to create a configuration file", err)
	}

	var ep *config.Endpoint
	if urlOrAlias != "" {
		ep, err = endpoint.Lookup(projectConfig, urlOrAlias)
	} else {
		ep, err = endpoint.PromptEndpointSelection(projectConfig)
	}
	if err != nil {
		return err
	}

	if opts.CredentialStore != "" && !credstore.IsBackend(opts.CredentialStore) {
		return fmt.Errorf("unknown credential backend %q (use keyring, file or memory)", opts.CredentialStore)
	}

	if err := userconfig.SetSelectedAPI(config.NormalizeURL(ep.URL)); err != nil {
		return fmt.Errorf("failed to save selected endpoint: %w", err)
	}
	if opts.CredentialStore != "" {
		if err := userconfig.SetCredentialBackend(opts.CredentialStore); err != nil {
			return fmt.Errorf("failed to save credential backend: %w", err)
		}
	}

	fmt.Fprintf(opts.out(), "Selected endpoint: %s\n", describeEndpoint(ep))
	return nil
}
