package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		got, ok := ParseRole(string(r))
		require.True(t, ok)
		require.Equal(t, r, got)
	}

	for _, s := range []string{"", "Admin", "owner", "super_admin"} {
		_, ok := ParseRole(s)
		require.False(t, ok, s)
		require.False(t, Role(s).Valid())
	}
}

func TestRole_SelfAssignable(t *testing.T) {
	require.True(t, RoleUser.SelfAssignable())
	require.True(t, RoleAgent.SelfAssignable())
	require.False(t, RoleAdmin.SelfAssignable())
}

func TestRefreshSession_Active(t *testing.T) {
	now := time.Now()
	s := &RefreshSession{ExpiresAt: now.Add(time.Minute)}
	require.True(t, s.Active(now))
	require.False(t, s.Active(now.Add(time.Minute)))

	s.RevokedAt = &now
	require.False(t, s.Active(now))
}
