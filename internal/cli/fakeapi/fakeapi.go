// Package fakeapi is an in-process stand-in for the auth API used by tests.
// Access tokens are issued in sequence as T1, T2, ... and refresh tokens as R1, R2, ...
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
)

type account struct {
	password string
	user     client.User
}

// Server is a fake auth API
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*account // by email
	access   map[string]string   // access token -> user id
	refresh  map[string]string   // refresh token -> user id
	seq      int
	rseq     int

	// Knobs; set before the calls they affect
	RefreshGate    chan struct{} // refresh waits for a receive when non-nil
	RefreshStatus  int           // forced refresh status when non-zero
	LogoutStatus   int           // forced logout status when non-zero
	MeStatus       int           // forced /auth/me status when non-zero
	OmitLoginToken bool          // login/register succeed without accessToken

	RefreshCalls atomic.Int32
	LogoutCalls  atomic.Int32
	MeCalls      atomic.Int32
}

// New starts a fake API. Close it when done.
func New() *Server {
	s := &Server{
		accounts: make(map[string]*account),
		access:   make(map[string]string),
		refresh:  make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /auth/me", s.handleMe)
	mux.HandleFunc("GET /properties/mine", s.handleProtected)

	s.Server = httptest.NewServer(mux)
	return s
}

// AddUser seeds an account
func (s *Server) AddUser(id, email, password, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[email] = &account{
		password: password,
		user:     client.User{ID: id, Name: strings.Split(email, "@")[0], Email: email, Role: role},
	}
}

// SetRole changes an account's role server-side
func (s *Server) SetRole(email, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.accounts[email]; a != nil {
		a.user.Role = role
	}
}

// Expire invalidates an access token, as if its lifetime ran out
func (s *Server) Expire(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.access, token)
}

// RevokeRefresh invalidates every refresh token
func (s *Server) RevokeRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

// IssueSession creates tokens for a seeded account without going through login
func (s *Server) IssueSession(email string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[email]
	if a == nil {
		return "", ""
	}
	return s.issueLocked(a.user.ID), s.issueRefreshLocked(a.user.ID)
}

func (s *Server) issueLocked(userID string) string {
	s.seq++
	token := fmt.Sprintf("T%d", s.seq)
	s.access[token] = userID
	return token
}

func (s *Server) issueRefreshLocked(userID string) string {
	s.rseq++
	token := fmt.Sprintf("R%d", s.rseq)
	s.refresh[token] = userID
	return token
}

func (s *Server) userByIDLocked(id string) *client.User {
	for _, a := range s.accounts {
		if a.user.ID == id {
			u := a.user
			return &u
		}
	}
	return nil
}

func (s *Server) bearerUserLocked(r *http.Request) *client.User {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	id, ok := s.access[token]
	if !ok {
		return nil
	}
	return s.userByIDLocked(id)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req client.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[req.Email]; exists {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	role := req.Role
	if role == "" {
		role = "user"
	}
	id := fmt.Sprintf("%d", len(s.accounts)+1)
	s.accounts[req.Email] = &account{
		password: req.Password,
		user:     client.User{ID: id, Name: req.Name, Email: req.Email, Role: role},
	}
	s.writeSessionLocked(w, http.StatusCreated, s.accounts[req.Email].user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req client.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.accounts[req.Identifier]
	if a == nil || a.password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	s.writeSessionLocked(w, http.StatusOK, a.user)
}

func (s *Server) writeSessionLocked(w http.ResponseWriter, status int, user client.User) {
	payload := client.AuthPayload{User: &user}
	if !s.OmitLoginToken {
		payload.AccessToken = s.issueLocked(user.ID)
	}
	setRefreshCookie(w, s.issueRefreshLocked(user.ID))
	writeData(w, status, payload)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.LogoutCalls.Add(1)
	if s.LogoutStatus != 0 {
		writeError(w, s.LogoutStatus, "logout unavailable")
		return
	}

	s.mu.Lock()
	if c, err := r.Cookie(client.RefreshCookieName); err == nil {
		delete(s.refresh, c.Value)
	}
	delete(s.access, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: client.RefreshCookieName, Value: "", Path: "/auth", MaxAge: -1})
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{}`))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.RefreshCalls.Add(1)
	if s.RefreshGate != nil {
		<-s.RefreshGate
	}
	if s.RefreshStatus != 0 {
		writeError(w, s.RefreshStatus, "refresh unavailable")
		return
	}

	c, err := r.Cookie(client.RefreshCookieName)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing refresh token")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.refresh[c.Value]
	if !ok {
		writeError(w, http.StatusUnauthorized, "Refresh token expired or revoked")
		return
	}
	delete(s.refresh, c.Value)

	setRefreshCookie(w, s.issueRefreshLocked(userID))
	writeData(w, http.StatusOK, map[string]string{"accessToken": s.issueLocked(userID)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.MeCalls.Add(1)
	if s.MeStatus != 0 {
		writeError(w, s.MeStatus, "me unavailable")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.bearerUserLocked(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleProtected(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.bearerUserLocked(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"owner": user.ID, "properties": []string{}})
}

func setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{Name: client.RefreshCookieName, Value: token, Path: "/auth", HttpOnly: true})
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
