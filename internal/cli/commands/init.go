package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/propertyhub-dev/propertyhub/internal/cli/config"
)

// NewInitCmd creates the init command
func NewInitCmd(opts *Options) *cobra.Command {
	var alias string

	cmd := &cobra.Command{
		Use:   "init <api-url>",
		Short: "Add an API endpoint to ./propertyhub.yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, args[0], alias)
		},
	}

	cmd.Flags().StringVar(&alias, "alias", "", "Name for the endpoint (default: local for the first, api-N after)")
	return cmd
}

func runInit(opts *Options, apiURL, alias string) error {
	out := opts.out()

	currentDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	configPath := filepath.Join(currentDir, config.ConfigFileName)

	var cfg *config.Config
	isNewConfig := false

	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load existing config: %w", err)
		}
		fmt.Fprintf(out, "Found existing %s\n", config.ConfigFileName)
	} else {
		cfg = &config.Config{Endpoints: []config.Endpoint{}}
		isNewConfig = true
	}

	normalized := config.NormalizeURL(apiURL)
	for _, ep := range cfg.Endpoints {
		if config.NormalizeURL(ep.URL) == normalized {
			fmt.Fprintf(out, "Endpoint %s already exists in %s (%s)\n", normalized, config.ConfigFileName, ep.Alias)
			return nil
		}
	}

	if alias == "" {
		if len(cfg.Endpoints) == 0 {
			alias = "local"
		} else {
			alias = fmt.Sprintf("api-%d", len(cfg.Endpoints)+1)
		}
	}
	if _, err := cfg.GetEndpointByAlias(alias); err == nil {
		return fmt.Errorf("alias '%s' is already used in %s", alias, config.ConfigFileName)
	}

	cfg.Endpoints = append(cfg.Endpoints, config.Endpoint{Alias: alias, URL: normalized})
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}

	if isNewConfig {
		fmt.Fprintf(out, "✓ Created ./%s with endpoint %s (%s)\n", config.ConfigFileName, normalized, alias)
	} else {
		fmt.Fprintf(out, "✓ Added endpoint %s (%s) to ./%s\n", normalized, alias, config.ConfigFileName)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Run 'propertyhub register' to create an account, or")
	fmt.Fprintln(out, "  2. Run 'propertyhub login' to sign in")

	return nil
}
