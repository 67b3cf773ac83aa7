package authctx

import (
	"github.com/propertyhub-dev/propertyhub/internal/cli/client"
	"github.com/propertyhub-dev/propertyhub/internal/models"
)

// Status is the position in the session state machine
type Status int

const (
	Unauthenticated Status = iota
	Authenticating
	Authenticated
	Refreshing
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	}
	return "unknown"
}

// Phase says how far the held profile can be trusted
type Phase int

const (
	// PhaseNone: no session
	PhaseNone Phase = iota
	// PhaseOptimistic: seeded from the credential store, not yet confirmed by the server
	PhaseOptimistic
	// PhaseVerified: confirmed by the server in this process
	PhaseVerified
)

func (p Phase) String() string {
	switch p {
	case PhaseOptimistic:
		return "optimistic"
	case PhaseVerified:
		return "verified"
	}
	return "none"
}

// State is an immutable snapshot handed to readers and listeners
type State struct {
	Status Status
	Phase  Phase
	User   *client.User
	// Expired is set when the last move to Unauthenticated was forced by the
	// server rejecting the session rather than an explicit logout
	Expired bool
}

// IsAuthenticated reports whether a session is held. Refreshing still counts.
func (s State) IsAuthenticated() bool {
	return (s.Status == Authenticated || s.Status == Refreshing) && s.User != nil
}

// Role returns the session's role. Unknown server roles report false.
func (s State) Role() (models.Role, bool) {
	if !s.IsAuthenticated() {
		return "", false
	}
	return s.User.ParsedRole()
}

func cloneUser(u *client.User) *client.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
