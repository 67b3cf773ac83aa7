// Package menu maps a role to the navigation entries shown for it
package menu

import (
	"github.com/propertyhub-dev/propertyhub/internal/models"
)

// Icon names the glyph drawn next to an entry
type Icon string

const (
	IconDashboard Icon = "dashboard"
	IconAdd       Icon = "add"
	IconList      Icon = "list"
	IconHeart     Icon = "heart"
	IconUser      Icon = "user"
	IconUsers     Icon = "users"
	IconBuilding  Icon = "building"
)

// Entry is one navigation item
type Entry struct {
	Path  string `json:"path"`
	Label string `json:"label"`
	Icon  Icon   `json:"icon"`
}

var (
	wishlist = Entry{Path: "/wishlist", Label: "Wishlist", Icon: IconHeart}
	profile  = Entry{Path: "/profile", Label: "Profile", Icon: IconUser}

	userEntries = []Entry{wishlist, profile}

	agentEntries = []Entry{
		{Path: "/dashboard", Label: "Dashboard", Icon: IconDashboard},
		{Path: "/properties/add", Label: "Add Property", Icon: IconAdd},
		{Path: "/my-properties", Label: "My Properties", Icon: IconList},
		wishlist,
		profile,
	}

	adminEntries = []Entry{
		{Path: "/admin/dashboard", Label: "Admin Dashboard", Icon: IconDashboard},
		{Path: "/admin/users", Label: "Manage Users", Icon: IconUsers},
		{Path: "/admin/properties", Label: "Manage Properties", Icon: IconBuilding},
		profile,
	}

	navLinks = []Entry{
		{Path: "/", Label: "Home"},
		{Path: "/properties", Label: "Properties"},
	}
)

// Resolve returns the menu for role in display order.
// Unknown roles get an empty menu.
func Resolve(role models.Role) []Entry {
	switch role {
	case models.RoleUser:
		return clone(userEntries)
	case models.RoleAgent:
		return clone(agentEntries)
	case models.RoleAdmin:
		return clone(adminEntries)
	}
	return []Entry{}
}

// ResolveString resolves a role as it arrived on the wire
func ResolveString(role string) []Entry {
	r, ok := models.ParseRole(role)
	if !ok {
		return []Entry{}
	}
	return Resolve(r)
}

// NavLinks are the top-level links shown in every auth state
func NavLinks() []Entry {
	return clone(navLinks)
}

// Home returns where a signed-in role lands by default
func Home(role models.Role) string {
	if entries := Resolve(role); len(entries) > 0 {
		return entries[0].Path
	}
	return "/"
}

func clone(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
