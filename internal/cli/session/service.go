// Package session performs the auth API operations and keeps the
// credential store in step with each outcome.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
	"github.com/propertyhub-dev/propertyhub/internal/cli/credstore"
)

// API is the subset of client.Client the service depends on
type API interface {
	Register(ctx context.Context, req client.RegisterRequest) (*client.AuthPayload, error)
	Login(ctx context.Context, req client.LoginRequest) (*client.AuthPayload, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, accessToken string) (string, error)
	Me(ctx context.Context, accessToken string) (*client.User, error)
	RefreshToken() string
	SetRefreshToken(token string)
}

const refreshKey = "refresh"

// Service owns the session lifecycle for one API endpoint
type Service struct {
	api      API
	store    credstore.Store
	validate *validator.Validate
	logger   zerolog.Logger
	refresh  singleflight.Group
}

// NewService wires a Service and restores any persisted refresh credential into api
func NewService(api API, store credstore.Store, logger zerolog.Logger) *Service {
	s := &Service{
		api:      api,
		store:    store,
		validate: validator.New(),
		logger:   logger.With().Str("component", "session").Logger(),
	}

	if creds := s.load(); creds != nil && creds.RefreshToken != "" {
		api.SetRefreshToken(creds.RefreshToken)
	}
	return s
}

// Register creates an account. The store holds the new session before Register returns.
func (s *Service) Register(ctx context.Context, in client.RegisterRequest) (*client.AuthPayload, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError("register", err)
	}

	payload, err := s.api.Register(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.persist("register", payload); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", payload.User.ID).Str("role", payload.User.Role).Msg("Registered")
	return payload, nil
}

// Login authenticates with an identifier and password
func (s *Service) Login(ctx context.Context, in client.LoginRequest) (*client.AuthPayload, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError("login", err)
	}

	payload, err := s.api.Login(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.persist("login", payload); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", payload.User.ID).Str("role", payload.User.Role).Msg("Logged in")
	return payload, nil
}

// Logout ends the session. The local store is always cleared; a failing
// server call is logged and dropped so logout never fails for the user.
func (s *Service) Logout(ctx context.Context) {
	creds := s.load()

	if creds != nil || s.api.RefreshToken() != "" {
		token := ""
		if creds != nil {
			token = creds.Token
		}
		if err := s.api.Logout(ctx, token); err != nil {
			s.logger.Warn().Err(err).Msg("Server logout failed, clearing local session anyway")
		}
	}

	if err := s.store.Clear(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear credential store")
	}
	s.api.SetRefreshToken("")
}

// Refresh exchanges the current session for a new access token, replacing
// only the stored token. Concurrent callers share one in-flight request and
// receive the same token. ErrSessionExpired leaves the store cleared.
//
// With no stored session Refresh makes no request and reports
// ErrSessionExpired; the caller is signed out either way. authctx treats
// that case as a no-op. A logout that lands while the request is in flight
// wins: the new token is discarded and ErrUnauthorized is returned.
func (s *Service) Refresh(ctx context.Context) (string, error) {
	ch := s.refresh.DoChan(refreshKey, func() (interface{}, error) {
		// Detached so one impatient caller cannot fail the others
		return s.doRefresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Service) doRefresh(ctx context.Context) (string, error) {
	creds := s.load()
	if creds == nil {
		s.clear()
		return "", &client.APIError{Op: "refresh", Kind: client.ErrSessionExpired, Message: "no session to refresh"}
	}

	token, err := s.api.Refresh(ctx, creds.Token)
	if err != nil {
		if errors.Is(err, client.ErrSessionExpired) {
			s.clearIfCurrent(creds.Token)
		}
		return "", err
	}
	if token == "" {
		return "", &client.APIError{Op: "refresh", Kind: client.ErrValidation, Message: "response carried no access token"}
	}

	if err := s.store.SetToken(token); err != nil {
		if errors.Is(err, credstore.ErrNoSession) {
			// Logged out while the refresh was in flight; the rotated cookie goes too
			s.api.SetRefreshToken("")
			return "", &client.APIError{Op: "refresh", Kind: client.ErrUnauthorized, Message: "logged out during refresh"}
		}
		return "", fmt.Errorf("failed to save refreshed token: %w", err)
	}
	s.saveRefreshToken()

	s.logger.Debug().Msg("Access token refreshed")
	return token, nil
}

// Expire drops the local session without contacting the server. Used when
// the server has already rejected the session.
func (s *Service) Expire() {
	s.logger.Info().Msg("Session expired, clearing local credentials")
	s.clear()
}

// CurrentUser fetches the authoritative profile for the held token.
// It does not touch the store.
func (s *Service) CurrentUser(ctx context.Context) (*client.User, error) {
	creds := s.load()
	if creds == nil {
		return nil, &client.APIError{Op: "me", Kind: client.ErrUnauthorized, Message: "not authenticated"}
	}
	return s.api.Me(ctx, creds.Token)
}

// ReplaceUser swaps the stored profile wholesale, keeping the token
func (s *Service) ReplaceUser(user *client.User) error {
	creds := s.load()
	if creds == nil {
		return credstore.ErrNoSession
	}
	return s.store.Set(creds.Token, user)
}

// StoredUser returns the persisted profile, or nil
func (s *Service) StoredUser() *client.User {
	if creds := s.load(); creds != nil {
		return creds.User
	}
	return nil
}

// Token returns the persisted access token, or ""
func (s *Service) Token() string {
	if creds := s.load(); creds != nil {
		return creds.Token
	}
	return ""
}

// IsAuthenticated reports whether the store holds a token
func (s *Service) IsAuthenticated() bool {
	return s.Token() != ""
}

func (s *Service) persist(op string, payload *client.AuthPayload) error {
	// A success response without a token is treated as a rejected request
	if payload == nil || payload.AccessToken == "" || payload.User == nil {
		return &client.APIError{Op: op, Kind: client.ErrValidation, Message: "response carried no access token or user"}
	}
	if err := s.store.Set(payload.AccessToken, payload.User); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.saveRefreshToken()
	return nil
}

func (s *Service) saveRefreshToken() {
	if err := s.store.SetRefreshToken(s.api.RefreshToken()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist refresh token")
	}
}

func (s *Service) load() *credstore.Credentials {
	creds, err := s.store.Get()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read credential store")
		return nil
	}
	return creds
}

// clearIfCurrent drops the session only if it is still the one token
// belongs to, so a rejected refresh cannot wipe a login that replaced it
func (s *Service) clearIfCurrent(token string) {
	if creds := s.load(); creds != nil && creds.Token != token {
		s.logger.Debug().Msg("Refresh rejected for a replaced session, keeping the new one")
		return
	}
	s.logger.Info().Msg("Refresh rejected, clearing session")
	s.clear()
}

func (s *Service) clear() {
	if err := s.store.Clear(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear credential store")
	}
	s.api.SetRefreshToken("")
}

func validationError(op string, err error) error {
	return &client.APIError{Op: op, Kind: client.ErrValidation, Message: err.Error(), Err: err}
}
