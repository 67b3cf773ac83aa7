// Package authctx holds the process-wide view of the session: who is signed
// in, how far that is trusted, and the operations that change it.
// A Context is created once, started, passed to whatever needs it, and closed.
package authctx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
)

// Service is the session.Service surface the context drives
type Service interface {
	Register(ctx context.Context, in client.RegisterRequest) (*client.AuthPayload, error)
	Login(ctx context.Context, in client.LoginRequest) (*client.AuthPayload, error)
	Logout(ctx context.Context)
	Refresh(ctx context.Context) (string, error)
	Expire()
	CurrentUser(ctx context.Context) (*client.User, error)
	ReplaceUser(user *client.User) error
	StoredUser() *client.User
	Token() string
	IsAuthenticated() bool
}

// Doer sends authorized API requests; client.Client satisfies it
type Doer interface {
	Do(ctx context.Context, method, path, accessToken string, body io.Reader) (*http.Response, error)
}

type listener struct {
	id int
	fn func(State)
}

// Context is the single source of truth for session state in the process
type Context struct {
	svc    Service
	doer   Doer
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	listeners []listener
	nextID    int
	// bumped whenever a session is started or ended explicitly
	epoch uint64

	// held while recovering from a 401 so late arrivals see the new token
	recoverMu sync.Mutex

	startOnce sync.Once
	cancel    context.CancelFunc
	validated chan struct{}
}

// New returns an unstarted Context
func New(svc Service, doer Doer, logger zerolog.Logger) *Context {
	return &Context{
		svc:       svc,
		doer:      doer,
		logger:    logger.With().Str("component", "authctx").Logger(),
		validated: make(chan struct{}),
	}
}

// Start seeds the state from the credential store straight away and then
// validates the stored profile against the server in the background.
// Calling Start more than once has no further effect.
func (c *Context) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		user := c.svc.StoredUser()
		if c.svc.IsAuthenticated() && user != nil {
			c.transition(func(s *State) {
				*s = State{Status: Authenticated, Phase: PhaseOptimistic, User: user}
			})
		} else {
			c.transition(func(s *State) { *s = State{Status: Unauthenticated} })
			close(c.validated)
			return
		}

		vctx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()

		go func() {
			defer close(c.validated)
			c.validate(vctx)
		}()
	})
}

// Wait blocks until the start-up validation has finished
func (c *Context) Wait(ctx context.Context) error {
	select {
	case <-c.validated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops background validation and drops all listeners
func (c *Context) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.listeners = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Context) validate(ctx context.Context) {
	user, err := c.svc.CurrentUser(ctx)
	if err != nil && client.IsAuthFailure(err) {
		c.logger.Debug().Err(err).Msg("Stored session rejected, trying refresh")
		if rerr := c.RefreshIfNeeded(ctx); rerr != nil {
			if !errors.Is(rerr, client.ErrSessionExpired) {
				c.logger.Warn().Err(rerr).Msg("Could not validate stored session")
			}
			return
		}
		user, err = c.svc.CurrentUser(ctx)
	}

	switch {
	case err == nil:
		c.adoptProfile(user)
	case client.IsAuthFailure(err):
		c.expire()
	default:
		// Transient; keep the optimistic session
		c.logger.Warn().Err(err).Msg("Could not validate stored session")
	}
}

// adoptProfile makes a server-confirmed profile current, unless the session
// changed underneath the validation
func (c *Context) adoptProfile(user *client.User) {
	c.mu.Lock()
	stale := !c.state.IsAuthenticated() || c.state.User.ID != user.ID
	c.mu.Unlock()
	if stale {
		return
	}

	if err := c.svc.ReplaceUser(user); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to store validated profile")
		return
	}
	c.transition(func(s *State) {
		s.Phase = PhaseVerified
		s.User = user
	})
}

// State returns a snapshot of the current state
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.User = cloneUser(s.User)
	return s
}

// User returns the current profile, or nil
func (c *Context) User() *client.User {
	return c.State().User
}

// IsAuthenticated reports whether a session is held
func (c *Context) IsAuthenticated() bool {
	return c.State().IsAuthenticated()
}

// Phase reports whether the held profile is optimistic or verified
func (c *Context) Phase() Phase {
	return c.State().Phase
}

// Subscribe registers fn to be called after every state change.
// The returned function unregisters it.
func (c *Context) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Login authenticates and, on success, makes the new session current
func (c *Context) Login(ctx context.Context, in client.LoginRequest) (*client.User, error) {
	return c.authenticate(func() (*client.AuthPayload, error) {
		return c.svc.Login(ctx, in)
	})
}

// Register creates an account and signs it in
func (c *Context) Register(ctx context.Context, in client.RegisterRequest) (*client.User, error) {
	return c.authenticate(func() (*client.AuthPayload, error) {
		return c.svc.Register(ctx, in)
	})
}

func (c *Context) authenticate(call func() (*client.AuthPayload, error)) (*client.User, error) {
	var prev State
	c.transition(func(s *State) {
		prev = *s
		s.Status = Authenticating
	})

	payload, err := call()
	if err != nil {
		stillHeld := c.svc.IsAuthenticated()
		c.transition(func(s *State) {
			// A failed attempt leaves any earlier session as it was
			if prev.IsAuthenticated() && stillHeld {
				*s = prev
				return
			}
			*s = State{Status: Unauthenticated}
		})
		return nil, err
	}

	c.transition(func(s *State) {
		c.epoch++
		*s = State{Status: Authenticated, Phase: PhaseVerified, User: payload.User}
	})
	return cloneUser(payload.User), nil
}

// Logout always ends in Unauthenticated; server errors never surface here
func (c *Context) Logout(ctx context.Context) {
	c.mu.Lock()
	c.epoch++
	c.mu.Unlock()

	c.svc.Logout(ctx)
	c.transition(func(s *State) { *s = State{Status: Unauthenticated} })
}

// RefreshIfNeeded refreshes the access token of a held session. Without a
// session it does nothing. A rejected refresh ends the session here, whoever
// triggered it, and ErrSessionExpired is returned for information.
func (c *Context) RefreshIfNeeded(ctx context.Context) error {
	if !c.IsAuthenticated() {
		return nil
	}

	var epoch uint64
	c.transition(func(s *State) {
		epoch = c.epoch
		if s.Status == Authenticated {
			s.Status = Refreshing
		}
	})

	_, err := c.svc.Refresh(ctx)
	if err != nil {
		if errors.Is(err, client.ErrSessionExpired) {
			c.expireUnlessReplaced(epoch)
			return err
		}
		c.transition(func(s *State) {
			if s.Status == Refreshing {
				s.Status = Authenticated
			}
		})
		return err
	}

	c.transition(func(s *State) {
		if s.Status == Refreshing {
			s.Status = Authenticated
			s.Phase = PhaseVerified
		}
	})
	return nil
}

// expireUnlessReplaced expires the session unless a logout or a new sign-in
// happened since epoch; that outcome already decided the state
func (c *Context) expireUnlessReplaced(epoch uint64) {
	c.mu.Lock()
	replaced := c.epoch != epoch
	c.mu.Unlock()
	if replaced {
		c.logger.Debug().Msg("Refresh rejected after the session changed, leaving state as is")
		return
	}
	c.expire()
}

// expire force-clears the session after the server rejected it
func (c *Context) expire() {
	c.svc.Expire()
	c.transition(func(s *State) { *s = State{Status: Unauthenticated, Expired: true} })
}

// Do sends an authorized request. On a 401 the token is refreshed (or a
// refresh someone else already completed is picked up) and the request is
// retried once.
func (c *Context) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token := c.svc.Token()
	if token == "" {
		return nil, &client.APIError{Op: "request", Kind: client.ErrUnauthorized, Message: "not authenticated"}
	}

	resp, err := c.doer.Do(ctx, method, path, token, bodyReader(body))
	if !errors.Is(err, client.ErrUnauthorized) {
		return resp, err
	}

	fresh, err := c.recoverToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return c.doer.Do(ctx, method, path, fresh, bodyReader(body))
}

// recoverToken returns a token newer than stale, refreshing only when no
// other request has already done so
func (c *Context) recoverToken(ctx context.Context, stale string) (string, error) {
	c.recoverMu.Lock()
	defer c.recoverMu.Unlock()

	if current := c.svc.Token(); current != "" && current != stale {
		return current, nil
	}
	if err := c.RefreshIfNeeded(ctx); err != nil {
		return "", err
	}
	if current := c.svc.Token(); current != "" {
		return current, nil
	}
	return "", &client.APIError{Op: "request", Kind: client.ErrSessionExpired, Message: "session ended during refresh"}
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}

// transition applies fn to the state and notifies listeners outside the lock
func (c *Context) transition(fn func(*State)) {
	c.mu.Lock()
	before := c.state
	fn(&c.state)
	after := c.state
	ls := make([]listener, len(c.listeners))
	copy(ls, c.listeners)
	c.mu.Unlock()

	if before == after {
		return
	}
	c.logger.Debug().
		Str("from", before.Status.String()).
		Str("to", after.Status.String()).
		Str("phase", after.Phase.String()).
		Msg("Session state changed")

	snapshot := after
	snapshot.User = cloneUser(after.User)
	for _, l := range ls {
		l.fn(snapshot)
	}
}
