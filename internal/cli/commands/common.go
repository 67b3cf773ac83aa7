package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/propertyhub-dev/propertyhub/internal/cli/authctx"
	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
	"github.com/propertyhub-dev/propertyhub/internal/cli/config"
	"github.com/propertyhub-dev/propertyhub/internal/cli/credstore"
	"github.com/propertyhub-dev/propertyhub/internal/cli/endpoint"
	"github.com/propertyhub-dev/propertyhub/internal/cli/session"
	"github.com/propertyhub-dev/propertyhub/internal/cli/userconfig"
	"github.com/propertyhub-dev/propertyhub/internal/logger"
)

const (
	envLogLevel        = "PROPERTYHUB_LOG_LEVEL"
	envCredentialStore = "PROPERTYHUB_CREDENTIAL_STORE"
)

// Options are the persistent flags shared by every command, plus the
// seams tests use to swap out the terminal and the credential store
type Options struct {
	API             string
	CredentialStore string

	Out        io.Writer
	Logger     *zerolog.Logger
	HTTPClient *http.Client
	OpenStore  func(backend, namespace string) (credstore.Store, error)
}

// BindFlags registers the persistent flags on root
func (o *Options) BindFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&o.API, "api", "", "API URL or alias from propertyhub.yaml (or set PROPERTYHUB_API_URL)")
	root.PersistentFlags().StringVar(&o.CredentialStore, "credential-store", "", "Credential backend: keyring, file or memory (or set PROPERTYHUB_CREDENTIAL_STORE)")
}

func (o *Options) out() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	return os.Stdout
}

func (o *Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	level := os.Getenv(envLogLevel)
	if level == "" {
		level = "warn"
	}
	return logger.NewWithLevel(os.Stderr, level, "console")
}

// backend picks the credential backend: flag, env, user config, then keyring
func (o *Options) backend() (string, error) {
	if o.CredentialStore != "" {
		return o.CredentialStore, nil
	}
	if env := os.Getenv(envCredentialStore); env != "" {
		return env, nil
	}
	cfg, err := userconfig.Load()
	if err != nil {
		return "", err
	}
	return cfg.CredentialBackend, nil
}

// sessionEnv is everything a session command works with, bound to one endpoint
type sessionEnv struct {
	endpoint *config.Endpoint
	client   *client.Client
	service  *session.Service
	auth     *authctx.Context
	out      io.Writer
}

func (e *sessionEnv) Close() {
	e.auth.Close()
}

// openSession resolves the endpoint and wires the client, credential store,
// session service and auth context for it. The auth context is not started.
func openSession(opts *Options) (*sessionEnv, error) {
	ep, err := endpoint.Resolve(opts.API)
	if err != nil {
		return nil, err
	}

	backend, err := opts.backend()
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	open := credstore.Open
	if opts.OpenStore != nil {
		open = opts.OpenStore
	}
	// Sessions are scoped per API so switching endpoints never mixes them
	store, err := open(backend, ep.URL)
	if err != nil {
		return nil, err
	}

	log := opts.logger().With().Str("api", ep.URL).Logger()

	apiClient := client.New(ep.URL)
	if opts.HTTPClient != nil {
		apiClient.SetHTTPClient(opts.HTTPClient)
	}
	svc := session.NewService(apiClient, store, log)

	return &sessionEnv{
		endpoint: ep,
		client:   apiClient,
		service:  svc,
		auth:     authctx.New(svc, apiClient, log),
		out:      opts.out(),
	}, nil
}

// startVerified starts the auth context and waits for the server to confirm
// or reject the stored session
func (e *sessionEnv) startVerified(ctx context.Context) authctx.State {
	e.auth.Start(ctx)
	// A cancelled wait still leaves the optimistic state to report
	_ = e.auth.Wait(ctx)
	return e.auth.State()
}

func describeEndpoint(ep *config.Endpoint) string {
	if ep.Alias == "" {
		return ep.URL
	}
	return fmt.Sprintf("%s (%s)", ep.Alias, ep.URL)
}

func printUser(w io.Writer, user *client.User) {
	fmt.Fprintf(w, "  User: %s (%s)\n", user.Name, user.Email)
	fmt.Fprintf(w, "  Role: %s\n", user.Role)
}

// sessionError explains why st holds no session
func sessionError(st authctx.State) error {
	if st.Expired {
		return friendlyError(client.ErrSessionExpired)
	}
	return friendlyError(client.ErrUnauthorized)
}

// friendlyError rewrites the error kinds a user can act on
func friendlyError(err error) error {
	switch {
	case errors.Is(err, client.ErrSessionExpired):
		return fmt.Errorf("your session has expired, please run 'propertyhub login' again")
	case errors.Is(err, client.ErrUnauthorized):
		return fmt.Errorf("not logged in, please run 'propertyhub login' first")
	case errors.Is(err, client.ErrNetwork):
		return fmt.Errorf("could not reach the API: %w", err)
	}
	return err
}
