package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/propertyhub-dev/propertyhub/internal/auth"
	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
	"github.com/propertyhub-dev/propertyhub/internal/cli/credstore"
	"github.com/propertyhub-dev/propertyhub/internal/cli/session"
	"github.com/propertyhub-dev/propertyhub/internal/config"
	"github.com/propertyhub-dev/propertyhub/internal/models"
	"github.com/propertyhub-dev/propertyhub/internal/ratelimit"
	"github.com/propertyhub-dev/propertyhub/internal/tasks"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{Port: "0", AllowedOrigins: []string{"http://localhost:5173"}},
		Auth: config.AuthConfig{
			JWTSecret:       "test-secret",
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      24 * time.Hour,
			LoginRateLimit:  5,
			LoginRateWindow: time.Minute,
		},
		Worker: config.WorkerConfig{PurgeRetention: 7 * 24 * time.Hour},
	}
}

func newTestServer(t *testing.T) (*Server, *fakeEnqueuer) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := testConfig()
	enq := &fakeEnqueuer{}
	s, err := newServer(cfg, db, zerolog.Nop(), "test",
		ratelimit.NewMemoryLimiter(cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow), enq)
	require.NoError(t, err)
	return s, enq
}

func createUser(t *testing.T, s *Server, email, password string, role models.Role) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	user := &models.User{Email: email, Name: "Test", PasswordHash: hash, Role: role}
	require.NoError(t, s.db.Create(user).Error)
	return user
}

type request struct {
	method string
	path   string
	body   any
	token  string
	cookie *http.Cookie
}

func do(t *testing.T, s *Server, r request) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(r.body))
	}
	req := httptest.NewRequest(r.method, r.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.cookie != nil {
		req.AddCookie(r.cookie)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.RefreshCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.RefreshCookieName)
	return nil
}

func login(t *testing.T, s *Server, identifier, password string) (AuthResponse, *http.Cookie) {
	t.Helper()
	rec := do(t, s, request{method: http.MethodPost, path: "/auth/login", body: LoginRequest{Identifier: identifier, Password: password}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out AuthResponse
	decodeData(t, rec, &out)
	return out, refreshCookie(t, rec)
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, request{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "propertyhub-api")
}

func TestRegister(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, request{method: http.MethodPost, path: "/auth/register", body: RegisterRequest{
		Name: "Ann", Email: "Ann@Example.com", Password: "password1", Role: "agent",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out AuthResponse
	decodeData(t, rec, &out)
	require.NotEmpty(t, out.AccessToken)
	require.Equal(t, models.RoleAgent, out.User.Role)
	require.Equal(t, "ann@example.com", out.User.Email)

	cookie := refreshCookie(t, rec)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, "/auth", cookie.Path)
}

func TestRegister_Rejections(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "taken@example.com", "password1", models.RoleUser)

	tests := []struct {
		name string
		body RegisterRequest
		code int
	}{
		{"admin is not self-assignable", RegisterRequest{Name: "A", Email: "a@example.com", Password: "password1", Role: "admin"}, http.StatusBadRequest},
		{"unknown role", RegisterRequest{Name: "A", Email: "a@example.com", Password: "password1", Role: "owner"}, http.StatusBadRequest},
		{"bad email", RegisterRequest{Name: "A", Email: "nope", Password: "password1"}, http.StatusBadRequest},
		{"short password", RegisterRequest{Name: "A", Email: "a@example.com", Password: "short"}, http.StatusBadRequest},
		{"duplicate email", RegisterRequest{Name: "A", Email: "taken@example.com", Password: "password1"}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, request{method: http.MethodPost, path: "/auth/register", body: tt.body})
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestRegister_DuplicateRaceIsConflict(t *testing.T) {
	s, _ := newTestServer(t)

	// Another registration for the same email lands between the existence
	// check and the insert
	raced := false
	require.NoError(t, s.db.Callback().Query().After("gorm:query").Register("test:register_race", func(tx *gorm.DB) {
		if raced || tx.Statement.Table != "users" {
			return
		}
		raced = true
		createUser(t, s, "race@example.com", "password1", models.RoleUser)
	}))

	rec := do(t, s, request{method: http.MethodPost, path: "/auth/register", body: RegisterRequest{
		Name: "Cy", Email: "race@example.com", Password: "password1",
	}})
	require.True(t, raced)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var count int64
	require.NoError(t, s.db.Model(&models.User{}).Where("email = ?", "race@example.com").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	require.True(t, isUniqueViolation(fmt.Errorf("create: %w", gorm.ErrDuplicatedKey)))
	require.True(t, isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)")))
	require.False(t, isUniqueViolation(errors.New("database is locked")))
	require.False(t, isUniqueViolation(nil))
}

func TestRegister_DefaultsToUser(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, request{method: http.MethodPost, path: "/auth/register", body: RegisterRequest{
		Name: "Bo", Email: "bo@example.com", Password: "password1",
	}})
	require.Equal(t, http.StatusCreated, rec.Code)

	var out AuthResponse
	decodeData(t, rec, &out)
	require.Equal(t, models.RoleUser, out.User.Role)
}

func TestLogin(t *testing.T) {
	s, _ := newTestServer(t)
	user := createUser(t, s, "a@example.com", "password1", models.RoleAgent)
	require.NoError(t, s.db.Model(user).Update("phone", "+15550001111").Error)

	out, _ := login(t, s, "A@example.com", "password1")
	require.Equal(t, user.ID, out.User.ID)

	out, _ = login(t, s, "+15550001111", "password1")
	require.Equal(t, user.ID, out.User.ID, "phone works as identifier")

	rec := do(t, s, request{method: http.MethodPost, path: "/auth/login", body: LoginRequest{Identifier: "a@example.com", Password: "wrong"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, request{method: http.MethodPost, path: "/auth/login", body: LoginRequest{Identifier: "ghost@example.com", Password: "password1"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_RateLimited(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "a@example.com", "password1", models.RoleUser)

	for i := 0; i < int(s.config.Auth.LoginRateLimit); i++ {
		rec := do(t, s, request{method: http.MethodPost, path: "/auth/login", body: LoginRequest{Identifier: "a@example.com", Password: "wrong"}})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := do(t, s, request{method: http.MethodPost, path: "/auth/login", body: LoginRequest{Identifier: "a@example.com", Password: "password1"}})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMe(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "a@example.com", "password1", models.RoleAgent)
	out, _ := login(t, s, "a@example.com", "password1")

	rec := do(t, s, request{method: http.MethodGet, path: "/auth/me", token: out.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)

	var me struct {
		User UserDetail `json:"user"`
	}
	decodeData(t, rec, &me)
	require.Equal(t, models.RoleAgent, me.User.Role)

	for _, token := range []string{"", "garbage"} {
		rec := do(t, s, request{method: http.MethodGet, path: "/auth/me", token: token})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestRefresh_RotatesCookie(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "a@example.com", "password1", models.RoleUser)
	_, first := login(t, s, "a@example.com", "password1")

	rec := do(t, s, request{method: http.MethodPost, path: "/auth/refresh", cookie: first})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out RefreshResponse
	decodeData(t, rec, &out)
	require.NotEmpty(t, out.AccessToken)

	second := refreshCookie(t, rec)
	require.NotEqual(t, first.Value, second.Value)

	rec = do(t, s, request{method: http.MethodGet, path: "/auth/me", token: out.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefresh_ReuseRevokesFamily(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "a@example.com", "password1", models.RoleUser)
	_, first := login(t, s, "a@example.com", "password1")

	rec := do(t, s, request{method: http.MethodPost, path: "/auth/refresh", cookie: first})
	require.Equal(t, http.StatusOK, rec.Code)
	second := refreshCookie(t, rec)

	// The rotated-away token comes back
	rec = do(t, s, request{method: http.MethodPost, path: "/auth/refresh", cookie: first})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, request{method: http.MethodPost, path: "/auth/refresh", cookie: second})
	require.Equal(t, http.StatusUnauthorized, rec.Code, "successor revoked with the family")
}

func TestRefresh_Rejections(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "a@example.com", "password1", models.RoleUser)
	_, cookie := login(t, s, "a@example.com", "password1")

	rec := do(t, s, request{method: http.MethodPost, path: "/auth/refresh"})
	require.Equal(t, http.StatusUnauthorized, rec.Code, "no cookie")

	rec = do(t, s, request{method: http.MethodPost, path: "/auth/refresh", cookie: &http.Cookie{Name: auth.RefreshCookieName, Value: "forged"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	rec = do(t, s, request{method: http.MethodPost, path: "/auth/refresh", cookie: cookie})
	require.Equal(t, http.StatusUnauthorized, rec.Code, "expired")
}

func TestLogout(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "a@example.com", "password1", models.RoleUser)
	_, cookie := login(t, s, "a@example.com", "password1")

	rec := do(t, s, request{method: http.MethodPost, path: "/auth/logout", cookie: cookie})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, -1, refreshCookie(t, rec).MaxAge)

	rec = do(t, s, request{method: http.MethodPost, path: "/auth/refresh", cookie: cookie})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, request{method: http.MethodPost, path: "/auth/logout"})
	require.Equal(t, http.StatusOK, rec.Code, "logout without a session still succeeds")
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	s, _ := newTestServer(t)
	createUser(t, s, "agent@example.com", "password1", models.RoleAgent)
	out, _ := login(t, s, "agent@example.com", "password1")

	rec := do(t, s, request{method: http.MethodGet, path: "/admin/users", token: out.AccessToken})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, request{method: http.MethodGet, path: "/admin/users"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_Users(t *testing.T) {
	s, _ := newTestServer(t)
	admin := createUser(t, s, "admin@example.com", "password1", models.RoleAdmin)
	member := createUser(t, s, "member@example.com", "password1", models.RoleUser)
	adminAuth, _ := login(t, s, "admin@example.com", "password1")
	memberAuth, _ := login(t, s, "member@example.com", "password1")

	rec := do(t, s, request{method: http.MethodGet, path: "/admin/users?role=user", token: adminAuth.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Users []UserDetail `json:"users"`
	}
	decodeData(t, rec, &list)
	require.Len(t, list.Users, 1)
	require.Equal(t, member.ID, list.Users[0].ID)

	// Promotion is visible on the member's next request with the same token
	rec = do(t, s, request{method: http.MethodPatch, path: "/admin/users/" + member.ID + "/role", token: adminAuth.AccessToken, body: UpdateRoleRequest{Role: "agent"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, request{method: http.MethodGet, path: "/auth/me", token: memberAuth.AccessToken})
	var me struct {
		User UserDetail `json:"user"`
	}
	decodeData(t, rec, &me)
	require.Equal(t, models.RoleAgent, me.User.Role)

	rec = do(t, s, request{method: http.MethodPatch, path: "/admin/users/" + member.ID + "/role", token: adminAuth.AccessToken, body: UpdateRoleRequest{Role: "owner"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, request{method: http.MethodPatch, path: "/admin/users/" + admin.ID + "/role", token: adminAuth.AccessToken, body: UpdateRoleRequest{Role: "user"}})
	require.Equal(t, http.StatusBadRequest, rec.Code, "own role")

	rec = do(t, s, request{method: http.MethodPatch, path: "/admin/users/missing/role", token: adminAuth.AccessToken, body: UpdateRoleRequest{Role: "user"}})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, request{method: http.MethodDelete, path: "/admin/users/" + admin.ID, token: adminAuth.AccessToken})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, request{method: http.MethodDelete, path: "/admin/users/" + member.ID, token: adminAuth.AccessToken})
	require.Equal(t, http.StatusNoContent, rec.Code)

	var sessions int64
	require.NoError(t, s.db.Model(&models.RefreshSession{}).Where("user_id = ?", member.ID).Count(&sessions).Error)
	require.Zero(t, sessions)

	rec = do(t, s, request{method: http.MethodGet, path: "/auth/me", token: memberAuth.AccessToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code, "deleted account")
}

func TestAdmin_PurgeSessions(t *testing.T) {
	s, enq := newTestServer(t)
	admin := createUser(t, s, "admin@example.com", "password1", models.RoleAdmin)
	out, _ := login(t, s, "admin@example.com", "password1")

	rec := do(t, s, request{method: http.MethodPost, path: "/admin/sessions/purge", token: out.AccessToken})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, enq.tasks, 1)
	require.Equal(t, tasks.TypePurgeExpiredSessions, enq.tasks[0].Type())
	payload, err := tasks.ParsePurgeSessionsPayload(enq.tasks[0])
	require.NoError(t, err)
	require.Equal(t, admin.ID, payload.RequestedBy)
	require.Equal(t, s.config.Worker.PurgeRetention, payload.Retention)

	enq.err = asynq.ErrDuplicateTask
	rec = do(t, s, request{method: http.MethodPost, path: "/admin/sessions/purge", token: out.AccessToken})
	require.Equal(t, http.StatusConflict, rec.Code)
}

// The CLI session service against the real API
func TestSessionServiceAgainstAPI(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	ctx := context.Background()

	store := credstore.NewMemoryStore()
	svc := session.NewService(client.New(srv.URL), store, zerolog.Nop())

	payload, err := svc.Register(ctx, client.RegisterRequest{Name: "Cy", Email: "cy@example.com", Password: "password1", Role: "agent"})
	require.NoError(t, err)
	require.Equal(t, "agent", payload.User.Role)

	creds, err := store.Get()
	require.NoError(t, err)
	require.NotEmpty(t, creds.RefreshToken, "refresh cookie captured")

	token, err := svc.Refresh(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	user, err := svc.CurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, "cy@example.com", user.Email)

	svc.Logout(ctx)
	require.False(t, svc.IsAuthenticated())

	_, err = svc.Login(ctx, client.LoginRequest{Identifier: "cy@example.com", Password: "wrong-pass"})
	require.ErrorIs(t, err, client.ErrInvalidCredentials)
}
