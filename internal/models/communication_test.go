package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActiveTyperSetNames(t *testing.T) {
	set := ActiveTyperSet{"u2": "Zoe", "u3": "Bob", "u4": "Ana"}

	require.Equal(t, []string{"Ana", "Bob", "Zoe"}, set.Names(""))
	require.Equal(t, []string{"Ana", "Zoe"}, set.Names("Bob"))
	require.Empty(t, ActiveTyperSet{}.Names("Bob"))
}

func TestTypingLabel(t *testing.T) {
	require.Equal(t, "", TypingLabel(nil))
	require.Equal(t, "Ana is typing...", TypingLabel([]string{"Ana"}))
	require.Equal(t, "Ana, Bob are typing...", TypingLabel([]string{"Ana", "Bob"}))
}

func TestIdentityAndPending(t *testing.T) {
	require.True(t, Identity{DisplayName: "guest"}.IsGuest())
	require.True(t, Identity{StableID: "  "}.IsGuest())
	require.False(t, Identity{StableID: "u1"}.IsGuest())

	now := time.Now()
	require.True(t, ChatMessage{}.Pending())
	require.False(t, ChatMessage{CreatedAt: &now}.Pending())
}
