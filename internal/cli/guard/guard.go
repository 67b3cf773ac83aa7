// Package guard decides whether a route may be shown for the current
// session, and where to send the user when it may not.
package guard

import (
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/propertyhub-dev/propertyhub/internal/cli/authctx"
	"github.com/propertyhub-dev/propertyhub/internal/cli/menu"
	"github.com/propertyhub-dev/propertyhub/internal/models"
)

// LoginPath is where unauthenticated visitors are sent
const LoginPath = "/login"

// Outcome is the kind of decision
type Outcome int

const (
	Allow Outcome = iota
	RedirectLogin
	// RedirectHome sends a signed-in user away from the sign-in pages
	RedirectHome
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect-login"
	case RedirectHome:
		return "redirect-home"
	case Forbidden:
		return "forbidden"
	}
	return "unknown"
}

// Decision is the result of checking one navigation
type Decision struct {
	Outcome  Outcome
	Redirect string // set for the redirect outcomes
}

// Access says who may reach a route
type Access struct {
	Public bool
	// GuestOnly routes are the sign-in pages; signed-in users are redirected
	GuestOnly bool
	// Roles restricts the route; empty means any authenticated role
	Roles []models.Role
}

var (
	public        = Access{Public: true}
	guestOnly     = Access{Public: true, GuestOnly: true}
	authenticated = Access{}
	agentOnly     = Access{Roles: []models.Role{models.RoleAgent}}
	adminOnly     = Access{Roles: []models.Role{models.RoleAdmin}}
)

// Rule binds a path pattern to its access. Patterns are matched segment by
// segment, ignoring case; ":name" matches any one segment and a trailing "*"
// matches the rest.
type Rule struct {
	Pattern string
	Access  Access
}

// DefaultRules is the route table of the web app. More specific patterns come first.
var DefaultRules = []Rule{
	{Pattern: "/", Access: public},
	{Pattern: "/login", Access: guestOnly},
	{Pattern: "/register", Access: guestOnly},
	{Pattern: "/properties", Access: public},
	{Pattern: "/properties/add", Access: agentOnly},
	{Pattern: "/properties/:id/edit", Access: agentOnly},
	{Pattern: "/properties/:id", Access: public},
	{Pattern: "/profile", Access: authenticated},
	{Pattern: "/wishlist", Access: authenticated},
	{Pattern: "/dashboard", Access: agentOnly},
	{Pattern: "/my-properties", Access: agentOnly},
	{Pattern: "/admin/*", Access: adminOnly},
}

// Guard checks navigations against a route table
type Guard struct {
	rules []Rule
}

// New returns a Guard over DefaultRules
func New() *Guard {
	return NewWithRules(DefaultRules)
}

// NewWithRules returns a Guard over rules, tried in order
func NewWithRules(rules []Rule) *Guard {
	return &Guard{rules: slices.Clone(rules)}
}

// Check decides whether path may be shown for state. The path is resolved
// the way the browser would before matching. Paths no rule matches are
// allowed so the app can render its own not-found page.
func (g *Guard) Check(state authctx.State, target string) Decision {
	canonical, suffix := clean(target)
	access, ok := g.match(canonical)
	if !ok {
		return Decision{Outcome: Allow}
	}

	if !state.IsAuthenticated() {
		if access.Public {
			return Decision{Outcome: Allow}
		}
		return Decision{Outcome: RedirectLogin, Redirect: LoginPath + "?next=" + url.QueryEscape(canonical+suffix)}
	}

	role, _ := state.Role()
	if access.GuestOnly {
		return Decision{Outcome: RedirectHome, Redirect: menu.Home(role)}
	}
	if access.Public || len(access.Roles) == 0 {
		return Decision{Outcome: Allow}
	}
	if slices.Contains(access.Roles, role) {
		return Decision{Outcome: Allow}
	}
	return Decision{Outcome: Forbidden}
}

func (g *Guard) match(p string) (Access, bool) {
	segments := split(p)
	for _, r := range g.rules {
		if matches(split(r.Pattern), segments) {
			return r.Access, true
		}
	}
	return Access{}, false
}

func matches(pattern, segments []string) bool {
	for i, p := range pattern {
		if p == "*" {
			return len(segments) >= i
		}
		if i >= len(segments) {
			return false
		}
		if !strings.HasPrefix(p, ":") && !strings.EqualFold(p, segments[i]) {
			return false
		}
	}
	return len(pattern) == len(segments)
}

// clean splits off the query and fragment and resolves the rest: percent
// escapes are decoded, "." and ".." segments and duplicate or trailing
// slashes are removed. Case is kept so route parameters survive.
func clean(target string) (canonical, suffix string) {
	p := target
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p, suffix = p[:i], p[i:]
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	return path.Clean("/" + p), suffix
}

func split(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
