package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/propertyhub-dev/propertyhub/internal/models"
)

const (
	opRegister = "register"
	opLogin    = "login"
	opLogout   = "logout"
	opRefresh  = "refresh"
	opMe       = "me"
	opRequest  = "request"

	// RefreshCookieName must match the cookie the API sets on login
	RefreshCookieName = "ph_refresh"
)

// Client represents an HTTP client for the propertyhub auth API
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu           sync.Mutex
	refreshToken string
}

// New creates a new API client. A base URL without a scheme is assumed to be HTTPS.
func New(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = fmt.Sprintf("https://%s", baseURL)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// BaseURL returns the API base the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RefreshToken returns the refresh credential last issued by the server
func (c *Client) RefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken
}

// SetRefreshToken restores a refresh credential persisted by an earlier process
func (c *Client) SetRefreshToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshToken = token
}

// User is the client-side view of an account
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ParsedRole converts the wire role. Unknown roles report false.
func (u *User) ParsedRole() (models.Role, bool) {
	if u == nil {
		return "", false
	}
	return models.ParseRole(u.Role)
}

// RegisterRequest represents the account creation body
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,e164"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=user agent"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// AuthPayload is the data returned by register and login
type AuthPayload struct {
	AccessToken string `json:"accessToken"`
	User        *User  `json:"user"`
}

type refreshPayload struct {
	AccessToken string `json:"accessToken"`
}

type mePayload struct {
	User *User `json:"user"`
}

// envelope is the success wrapper used by every auth endpoint
type envelope[T any] struct {
	Data T `json:"data"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Register creates an account and returns the issued session
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthPayload, error) {
	var out envelope[AuthPayload]
	if err := c.call(ctx, opRegister, http.MethodPost, "/auth/register", "", req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Login authenticates the user and returns the issued session
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthPayload, error) {
	var out envelope[AuthPayload]
	if err := c.call(ctx, opLogin, http.MethodPost, "/auth/login", "", req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Logout asks the server to invalidate the session. The local refresh
// credential is dropped whatever the outcome.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	defer c.SetRefreshToken("")
	return c.call(ctx, opLogout, http.MethodPost, "/auth/logout", accessToken, nil, nil)
}

// Refresh exchanges the held refresh credential for a new access token
func (c *Client) Refresh(ctx context.Context, accessToken string) (string, error) {
	var out envelope[refreshPayload]
	if err := c.call(ctx, opRefresh, http.MethodPost, "/auth/refresh", accessToken, nil, &out); err != nil {
		return "", err
	}
	return out.Data.AccessToken, nil
}

// Me returns the profile the server associates with accessToken
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	var out envelope[mePayload]
	if err := c.call(ctx, opMe, http.MethodGet, "/auth/me", accessToken, nil, &out); err != nil {
		return nil, err
	}
	if out.Data.User == nil {
		return nil, &APIError{Op: opMe, Status: http.StatusOK, Kind: ErrValidation, Message: "response carried no user"}
	}
	return out.Data.User, nil
}

// Do sends an arbitrary API request with the bearer token attached. A 401
// is returned as ErrUnauthorized with the body already closed; every other
// response is handed back to the caller, who must close it.
func (c *Client) Do(ctx context.Context, method, path, accessToken string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(opRequest, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		defer resp.Body.Close()
		return nil, &APIError{Op: opRequest, Status: resp.StatusCode, Kind: ErrUnauthorized, Message: readMessage(resp.Body)}
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, op, method, path, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	}
	if op == opRefresh || op == opLogout {
		if rt := c.RefreshToken(); rt != "" {
			req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: rt})
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(op, err)
	}
	defer resp.Body.Close()

	c.captureRefreshCookie(resp)

	if kind := classify(op, resp.StatusCode); kind != nil {
		return &APIError{Op: op, Status: resp.StatusCode, Kind: kind, Message: readMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: op, Status: resp.StatusCode, Kind: ErrNetwork, Message: "failed to decode response", Err: err}
	}
	return nil
}

func (c *Client) captureRefreshCookie(resp *http.Response) {
	for _, cookie := range resp.Cookies() {
		if cookie.Name != RefreshCookieName {
			continue
		}
		if cookie.MaxAge < 0 || cookie.Value == "" {
			c.SetRefreshToken("")
		} else {
			c.SetRefreshToken(cookie.Value)
		}
	}
}

func readMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil {
		if eb.Error != "" {
			return eb.Error
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	return strings.TrimSpace(string(data))
}
