// Package endpoint decides which propertyhub API the CLI talks to
package endpoint

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/propertyhub-dev/propertyhub/internal/cli/config"
	"github.com/propertyhub-dev/propertyhub/internal/cli/userconfig"
)

// EnvAPIURL overrides every other source when set
const EnvAPIURL = "PROPERTYHUB_API_URL"

// ErrNoEndpoint is returned when nothing names an API to use
var ErrNoEndpoint = errors.New("no API endpoint configured")

// Resolve determines which endpoint to use based on the following priority:
// 1. The --api flag (a URL or an alias from propertyhub.yaml)
// 2. PROPERTYHUB_API_URL
// 3. The endpoint selected with 'propertyhub use'
// 4. The only endpoint in propertyhub.yaml
// 5. An interactive choice among the endpoints in propertyhub.yaml
func Resolve(flag string) (*config.Endpoint, error) {
	return resolve(flag, PromptEndpointSelection)
}

func resolve(flag string, prompt func(*config.Config) (*config.Endpoint, error)) (*config.Endpoint, error) {
	projectConfig, err := config.LoadFromCurrentDir()
	if err != nil && !errors.Is(err, config.ErrNotFound) {
		return nil, err
	}

	// Priority 1
	if flag != "" {
		return Lookup(projectConfig, flag)
	}

	// Priority 2
	if env := os.Getenv(EnvAPIURL); env != "" {
		return &config.Endpoint{Alias: "env", URL: config.NormalizeURL(env)}, nil
	}

	// Priority 3
	selected, err := userconfig.GetSelectedAPI()
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if selected != "" {
		if projectConfig != nil {
			if ep, err := projectConfig.GetEndpointByURLOrAlias(selected); err == nil {
				return normalized(ep), nil
			}
		}
		return &config.Endpoint{URL: config.NormalizeURL(selected)}, nil
	}

	if projectConfig == nil || len(projectConfig.Endpoints) == 0 {
		return nil, fmt.Errorf("%w\nRun 'propertyhub use <url>' or add endpoints to %s", ErrNoEndpoint, config.ConfigFileName)
	}

	// Priority 4
	var ep *config.Endpoint
	if len(projectConfig.Endpoints) == 1 {
		ep = &projectConfig.Endpoints[0]
	} else {
		// Priority 5
		ep, err = prompt(projectConfig)
		if err != nil {
			return nil, err
		}
	}

	if ep.URL == "" {
		return nil, fmt.Errorf("endpoint '%s' has no url. Please edit %s", ep.Alias, config.ConfigFileName)
	}
	if err := userconfig.SetSelectedAPI(config.NormalizeURL(ep.URL)); err != nil {
		// Don't fail if we can't save, just continue
		fmt.Fprintf(os.Stderr, "Warning: failed to save selected endpoint: %v\n", err)
	}
	return normalized(ep), nil
}

// Lookup finds urlOrAlias in the project config. Anything that looks like
// a URL is accepted even when the project file does not list it.
func Lookup(projectConfig *config.Config, urlOrAlias string) (*config.Endpoint, error) {
	if projectConfig != nil {
		if ep, err := projectConfig.GetEndpointByURLOrAlias(urlOrAlias); err == nil {
			if ep.URL == "" {
				return nil, fmt.Errorf("endpoint '%s' has no url. Please edit %s", ep.Alias, config.ConfigFileName)
			}
			return normalized(ep), nil
		}
	}
	if looksLikeURL(urlOrAlias) {
		return &config.Endpoint{URL: config.NormalizeURL(urlOrAlias)}, nil
	}
	return nil, fmt.Errorf("endpoint with url or alias '%s' not found", urlOrAlias)
}

// PromptEndpointSelection shows an interactive prompt for the user to select an endpoint
func PromptEndpointSelection(projectConfig *config.Config) (*config.Endpoint, error) {
	if len(projectConfig.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured in %s", config.ConfigFileName)
	}

	type endpointOption struct {
		Label    string
		Endpoint *config.Endpoint
	}

	options := make([]endpointOption, len(projectConfig.Endpoints))
	for i := range projectConfig.Endpoints {
		ep := &projectConfig.Endpoints[i]
		options[i] = endpointOption{
			Label:    fmt.Sprintf("%s (%s)", ep.Alias, ep.URL),
			Endpoint: ep,
		}
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ .Label | green }}",
	}

	prompt := promptui.Select{
		Label:     "Select an API endpoint",
		Items:     options,
		Templates: templates,
		Size:      10,
	}

	index, _, err := prompt.Run()
	if err != nil {
		return nil, fmt.Errorf("endpoint selection cancelled: %w", err)
	}

	return options[index].Endpoint, nil
}

func normalized(ep *config.Endpoint) *config.Endpoint {
	return &config.Endpoint{Alias: ep.Alias, URL: config.NormalizeURL(ep.URL)}
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.ContainsAny(s, ".:")
}
