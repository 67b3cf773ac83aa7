package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockAuthAPI creates a mock auth API for testing
func mockAuthAPI(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/auth/login":
			var req LoginRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if req.Identifier != "a@b.com" || req.Password != "p" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "Invalid email or password"}`))
				return
			}
			http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Value: "R1", Path: "/auth"})
			w.Write([]byte(`{"data":{"accessToken":"T1","user":{"id":"1","name":"Ann","email":"a@b.com","role":"agent"}}}`))

		case "/auth/register":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"message": "Email already registered"}`))

		case "/auth/refresh":
			c, err := r.Cookie(RefreshCookieName)
			if err != nil || c.Value != "R1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Value: "R2", Path: "/auth"})
			w.Write([]byte(`{"data":{"accessToken":"T2"}}`))

		case "/auth/logout":
			http.SetCookie(w, &http.Cookie{Name: RefreshCookieName, Value: "", MaxAge: -1, Path: "/auth"})
			w.Write([]byte(`{}`))

		case "/auth/me":
			if r.Header.Get("Authorization") != "Bearer T1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"data":{"user":{"id":"1","name":"Ann","email":"a@b.com","role":"agent"}}}`))

		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClient_LoginCapturesRefreshCookie(t *testing.T) {
	srv := mockAuthAPI(t)
	defer srv.Close()

	c := New(srv.URL)
	payload, err := c.Login(context.Background(), LoginRequest{Identifier: "a@b.com", Password: "p"})
	require.NoError(t, err)
	require.Equal(t, "T1", payload.AccessToken)
	require.Equal(t, "agent", payload.User.Role)
	require.Equal(t, "R1", c.RefreshToken())

	token, err := c.Refresh(context.Background(), "T1")
	require.NoError(t, err)
	require.Equal(t, "T2", token)
	require.Equal(t, "R2", c.RefreshToken())
}

func TestClient_ErrorClassification(t *testing.T) {
	srv := mockAuthAPI(t)
	defer srv.Close()
	ctx := context.Background()
	c := New(srv.URL)

	_, err := c.Login(ctx, LoginRequest{Identifier: "a@b.com", Password: "wrong"})
	require.True(t, errors.Is(err, ErrInvalidCredentials))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "Invalid email or password", apiErr.Message)

	_, err = c.Register(ctx, RegisterRequest{Name: "x", Email: "a@b.com", Password: "password1"})
	require.True(t, errors.Is(err, ErrValidation))
	require.Contains(t, err.Error(), "Email already registered")

	_, err = c.Refresh(ctx, "T1")
	require.True(t, errors.Is(err, ErrSessionExpired))

	_, err = c.Me(ctx, "stale")
	require.True(t, errors.Is(err, ErrUnauthorized))
	require.True(t, IsAuthFailure(err))

	resp, err := c.Do(ctx, http.MethodGet, "/boom", "T1", nil)
	require.NoError(t, err, "non-401 responses are handed back")
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestClient_NetworkError(t *testing.T) {
	srv := mockAuthAPI(t)
	srv.Close()

	c := New(srv.URL)
	_, err := c.Login(context.Background(), LoginRequest{Identifier: "a@b.com", Password: "p"})
	require.True(t, errors.Is(err, ErrNetwork))
	require.False(t, IsAuthFailure(err))
}

func TestClient_LogoutClearsRefreshToken(t *testing.T) {
	srv := mockAuthAPI(t)
	defer srv.Close()

	c := New(srv.URL)
	c.SetRefreshToken("R1")
	require.NoError(t, c.Logout(context.Background(), "T1"))
	require.Empty(t, c.RefreshToken())
}

func TestClient_MeAndDo(t *testing.T) {
	srv := mockAuthAPI(t)
	defer srv.Close()
	ctx := context.Background()

	c := New(srv.URL)
	user, err := c.Me(ctx, "T1")
	require.NoError(t, err)
	role, ok := user.ParsedRole()
	require.True(t, ok)
	require.Equal(t, "agent", role.String())

	_, err = c.Do(ctx, http.MethodGet, "/auth/me", "stale", nil)
	require.True(t, errors.Is(err, ErrUnauthorized))
}

func TestNew_DefaultsToHTTPS(t *testing.T) {
	require.Equal(t, "https://api.example.com", New("api.example.com/").BaseURL())
	require.Equal(t, "http://localhost:8080", New("http://localhost:8080").BaseURL())
}
