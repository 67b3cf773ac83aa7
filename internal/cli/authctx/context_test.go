package authctx

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
	"github.com/propertyhub-dev/propertyhub/internal/cli/credstore"
	"github.com/propertyhub-dev/propertyhub/internal/cli/fakeapi"
	"github.com/propertyhub-dev/propertyhub/internal/cli/session"
	"github.com/propertyhub-dev/propertyhub/internal/models"
)

type harness struct {
	api    *fakeapi.Server
	store  credstore.Store
	client *client.Client
	auth   *Context
}

func newHarness(t *testing.T, store credstore.Store) *harness {
	t.Helper()

	api := fakeapi.New()
	t.Cleanup(api.Close)
	api.AddUser("1", "a@b.com", "p", "agent")

	if store == nil {
		store = credstore.NewMemoryStore()
	}
	c := client.New(api.URL)
	svc := session.NewService(c, store, zerolog.Nop())
	auth := New(svc, c, zerolog.Nop())
	t.Cleanup(auth.Close)

	return &harness{api: api, store: store, client: c, auth: auth}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	_, err := h.auth.Login(context.Background(), client.LoginRequest{Identifier: "a@b.com", Password: "p"})
	require.NoError(t, err)
}

func waitValidated(t *testing.T, c *Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestStart_EmptyStore(t *testing.T) {
	h := newHarness(t, nil)

	h.auth.Start(context.Background())
	waitValidated(t, h.auth)

	st := h.auth.State()
	require.Equal(t, Unauthenticated, st.Status)
	require.Equal(t, PhaseNone, st.Phase)
	require.False(t, h.auth.IsAuthenticated())
	require.Zero(t, h.api.MeCalls.Load())
}

func seedSession(t *testing.T, h *harness, user *client.User) *Context {
	t.Helper()

	access, refresh := h.api.IssueSession(user.Email)
	require.NoError(t, h.store.Set(access, user))
	require.NoError(t, h.store.SetRefreshToken(refresh))

	// A fresh process over the seeded store
	c := client.New(h.api.URL)
	auth := New(session.NewService(c, h.store, zerolog.Nop()), c, zerolog.Nop())
	t.Cleanup(auth.Close)
	return auth
}

func TestStart_TransientFailureKeepsOptimistic(t *testing.T) {
	h := newHarness(t, nil)
	auth := seedSession(t, h, &client.User{ID: "1", Name: "cached", Email: "a@b.com", Role: "agent"})

	h.api.MeStatus = http.StatusServiceUnavailable
	auth.Start(context.Background())
	waitValidated(t, auth)

	st := auth.State()
	require.Equal(t, Authenticated, st.Status)
	require.Equal(t, PhaseOptimistic, st.Phase)
	require.Equal(t, "cached", st.User.Name)
	require.Zero(t, h.api.RefreshCalls.Load())
}

func TestStart_ServerProfileReplacesCached(t *testing.T) {
	h := newHarness(t, nil)
	auth := seedSession(t, h, &client.User{ID: "1", Name: "cached", Email: "a@b.com", Role: "agent"})

	// Promoted since the profile was cached
	h.api.SetRole("a@b.com", "admin")

	var phases []Phase
	auth.Subscribe(func(s State) { phases = append(phases, s.Phase) })

	auth.Start(context.Background())
	waitValidated(t, auth)
	require.Equal(t, []Phase{PhaseOptimistic, PhaseVerified}, phases)

	st := auth.State()
	require.Equal(t, PhaseVerified, st.Phase)
	role, ok := st.Role()
	require.True(t, ok)
	require.Equal(t, models.RoleAdmin, role)

	creds, err := h.store.Get()
	require.NoError(t, err)
	require.Equal(t, "admin", creds.User.Role, "store agrees with the context")
	require.Equal(t, "a", creds.User.Name)
}

func TestStart_ExpiredTokenRefreshesThenVerifies(t *testing.T) {
	h := newHarness(t, nil)
	auth := seedSession(t, h, &client.User{ID: "1", Email: "a@b.com", Role: "agent"})
	h.api.Expire("T1")

	auth.Start(context.Background())
	waitValidated(t, auth)

	st := auth.State()
	require.Equal(t, Authenticated, st.Status)
	require.Equal(t, PhaseVerified, st.Phase)
	require.Equal(t, int32(1), h.api.RefreshCalls.Load())

	creds, err := h.store.Get()
	require.NoError(t, err)
	require.Equal(t, "T2", creds.Token)
}

func TestStart_RejectedSessionClearsStore(t *testing.T) {
	store := credstore.NewMemoryStore()
	require.NoError(t, store.Set("stale", &client.User{ID: "1", Role: "agent"}))
	h := newHarness(t, store)

	var seen []State
	h.auth.Subscribe(func(s State) { seen = append(seen, s) })

	h.auth.Start(context.Background())
	waitValidated(t, h.auth)

	require.False(t, h.auth.IsAuthenticated())
	require.True(t, h.auth.State().Expired)
	creds, err := store.Get()
	require.NoError(t, err)
	require.Nil(t, creds)

	require.NotEmpty(t, seen)
	require.Equal(t, PhaseOptimistic, seen[0].Phase, "first render is the optimistic seed")
	require.Equal(t, Unauthenticated, seen[len(seen)-1].Status)
}

func TestLogin_Transitions(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())

	var statuses []Status
	h.auth.Subscribe(func(s State) { statuses = append(statuses, s.Status) })

	h.login(t)

	require.Equal(t, []Status{Authenticating, Authenticated}, statuses)
	require.Equal(t, PhaseVerified, h.auth.Phase())

	creds, err := h.store.Get()
	require.NoError(t, err)
	require.Equal(t, "T1", creds.Token)
	require.Equal(t, h.auth.User(), creds.User)
}

func TestLogin_FailureReturnsToUnauthenticated(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())

	_, err := h.auth.Login(context.Background(), client.LoginRequest{Identifier: "a@b.com", Password: "bad"})
	require.ErrorIs(t, err, client.ErrInvalidCredentials)
	require.Equal(t, Unauthenticated, h.auth.State().Status)
}

func TestLogin_FailureKeepsEarlierSession(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())
	h.login(t)

	_, err := h.auth.Login(context.Background(), client.LoginRequest{Identifier: "a@b.com", Password: "bad"})
	require.ErrorIs(t, err, client.ErrInvalidCredentials)
	require.True(t, h.auth.IsAuthenticated())
	require.Equal(t, "1", h.auth.User().ID)
}

func TestRegister_SignsIn(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())

	user, err := h.auth.Register(context.Background(), client.RegisterRequest{
		Name: "Bo", Email: "bo@b.com", Password: "password1", Role: "agent",
	})
	require.NoError(t, err)
	require.Equal(t, "agent", user.Role)
	require.True(t, h.auth.IsAuthenticated())
}

func TestLogout(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())
	h.login(t)

	h.api.LogoutStatus = http.StatusInternalServerError
	h.auth.Logout(context.Background())

	require.False(t, h.auth.IsAuthenticated())
	require.False(t, h.auth.State().Expired)
	creds, _ := h.store.Get()
	require.Nil(t, creds)

	// Already signed out
	h.auth.Logout(context.Background())
	require.Equal(t, Unauthenticated, h.auth.State().Status)
}

func TestRefreshIfNeeded(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())

	require.NoError(t, h.auth.RefreshIfNeeded(context.Background()), "no session is a no-op")
	require.Zero(t, h.api.RefreshCalls.Load())

	h.login(t)

	var statuses []Status
	h.auth.Subscribe(func(s State) { statuses = append(statuses, s.Status) })

	require.NoError(t, h.auth.RefreshIfNeeded(context.Background()))
	require.Equal(t, []Status{Refreshing, Authenticated}, statuses)

	creds, _ := h.store.Get()
	require.Equal(t, "T2", creds.Token)
	require.Equal(t, "agent", creds.User.Role)
}

func TestRefreshIfNeeded_ExpiryForcesSignOut(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())
	h.login(t)

	var last State
	h.auth.Subscribe(func(s State) { last = s })

	h.api.RevokeRefresh()
	err := h.auth.RefreshIfNeeded(context.Background())
	require.ErrorIs(t, err, client.ErrSessionExpired)

	require.False(t, h.auth.IsAuthenticated())
	require.True(t, last.Expired)
	creds, _ := h.store.Get()
	require.Nil(t, creds)
}

func TestRefreshIfNeeded_LogoutDuringRefreshIsNotExpiry(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())
	h.login(t)

	gate := make(chan struct{})
	h.api.RefreshGate = gate

	done := make(chan error, 1)
	go func() { done <- h.auth.RefreshIfNeeded(context.Background()) }()
	require.Eventually(t, func() bool { return h.api.RefreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Logout revokes the refresh token the pending request carries
	h.auth.Logout(context.Background())
	close(gate)
	require.ErrorIs(t, <-done, client.ErrSessionExpired)

	st := h.auth.State()
	require.Equal(t, Unauthenticated, st.Status)
	require.False(t, st.Expired, "explicit logout, not a server-side expiry")
	creds, _ := h.store.Get()
	require.Nil(t, creds)
	require.Empty(t, h.client.RefreshToken())
}

func TestRefreshIfNeeded_RejectedRefreshKeepsNewerLogin(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())
	h.login(t)

	gate := make(chan struct{})
	h.api.RefreshGate = gate

	done := make(chan error, 1)
	go func() { done <- h.auth.RefreshIfNeeded(context.Background()) }()
	require.Eventually(t, func() bool { return h.api.RefreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.api.RevokeRefresh()
	h.login(t)
	close(gate)
	require.ErrorIs(t, <-done, client.ErrSessionExpired)

	require.True(t, h.auth.IsAuthenticated())
	require.False(t, h.auth.State().Expired)
	creds, err := h.store.Get()
	require.NoError(t, err)
	require.NotNil(t, creds, "the newer login survives")
}

func TestRefreshIfNeeded_TransientFailureKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())
	h.login(t)

	h.api.RefreshStatus = http.StatusBadGateway
	err := h.auth.RefreshIfNeeded(context.Background())
	require.ErrorIs(t, err, client.ErrNetwork)
	require.Equal(t, Authenticated, h.auth.State().Status)
}

func TestDo_RefreshesAndRetries(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())
	h.login(t)

	h.api.Expire("T1")

	resp, err := h.auth.Do(context.Background(), http.MethodGet, "/properties/mine", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(1), h.api.RefreshCalls.Load())
}

func TestDo_ConcurrentExpiryCoalesces(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())
	h.login(t)

	h.api.Expire("T1")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := h.auth.Do(context.Background(), http.MethodGet, "/properties/mine", nil)
			if err == nil {
				resp.Body.Close()
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), h.api.RefreshCalls.Load())
	require.True(t, h.auth.IsAuthenticated())
}

func TestDo_RejectedRefreshSignsOut(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())
	h.login(t)

	h.api.Expire("T1")
	h.api.RevokeRefresh()

	_, err := h.auth.Do(context.Background(), http.MethodGet, "/properties/mine", nil)
	require.ErrorIs(t, err, client.ErrSessionExpired)
	require.False(t, h.auth.IsAuthenticated())
}

func TestDo_Unauthenticated(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())

	_, err := h.auth.Do(context.Background(), http.MethodGet, "/properties/mine", nil)
	require.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	h := newHarness(t, nil)
	h.auth.Start(context.Background())

	calls := 0
	unsubscribe := h.auth.Subscribe(func(State) { calls++ })
	h.login(t)
	require.Equal(t, 2, calls)

	unsubscribe()
	h.auth.Logout(context.Background())
	require.Equal(t, 2, calls)
}
