package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermissionLevelString(t *testing.T) {
	require.Equal(t, "Guest", Guest.String())
	require.Equal(t, "Moderator", Moderator.String())
	require.Equal(t, "Admin", Admin.String())
	require.Equal(t, "Unknown", PermissionLevel(99).String())
}

func TestAuthenticatePlaceholderGrantsGuest(t *testing.T) {
	level, err := Authenticate("anyone", "anything")
	require.NoError(t, err)
	require.Equal(t, Guest, level)
}
