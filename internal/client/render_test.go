package client

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat/internal/dto"
)

func TestRendererPrintsOnlyChanges(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, false)
	at := time.Date(2024, 3, 1, 9, 5, 0, 0, time.Local)

	r.Render(dto.ServerEvent{Type: "joined", Room: &dto.RoomResponse{ID: "general", Participants: 2, Description: "General discussions and announcements."}})
	require.Contains(t, out.String(), "== #general (2 online) General discussions and announcements. ==")

	out.Reset()
	first := dto.MessageResponse{ID: "a", User: "Bob", Initial: "B", Text: "hi", CreatedAt: &at}
	pending := dto.MessageResponse{ID: "b", User: "Ana", Initial: "A", Text: "yo", Pending: true, Own: true}
	r.Render(dto.ServerEvent{Type: "messages", Messages: []dto.MessageResponse{first, pending}})
	require.Equal(t, "1. [B] Bob 09:05: hi\n2. [A] Ana (sending): yo\n", out.String())

	out.Reset()
	stamped := pending
	stamped.Pending = false
	stamped.CreatedAt = &at
	stamped.CanDelete = true
	r.Render(dto.ServerEvent{Type: "messages", Messages: []dto.MessageResponse{first, stamped}})
	require.Equal(t, "2. [A] Ana 09:05: yo  [/delete 2]\n", out.String())

	msg, ok := r.MessageAt(2)
	require.True(t, ok)
	require.Equal(t, "b", msg.ID)
	_, ok = r.MessageAt(3)
	require.False(t, ok)

	out.Reset()
	r.Render(dto.ServerEvent{Type: "messages", Messages: []dto.MessageResponse{stamped}})
	require.Equal(t, "   (a message from Bob was deleted)\n", out.String())
}

func TestRendererTypingLines(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, false)

	r.Render(dto.ServerEvent{Type: "typers", Typers: []string{"Bob"}, TypingLabel: "Bob is typing..."})
	r.Render(dto.ServerEvent{Type: "typers", Typers: []string{"Bob"}, TypingLabel: "Bob is typing..."})
	r.Render(dto.ServerEvent{Type: "typers", SelfTyping: true})
	r.Render(dto.ServerEvent{Type: "notice", Notice: "delete requires confirmation"})

	require.Equal(t, "   Bob is typing...\n   You are typing...\n!  delete requires confirmation\n", out.String())
}

func TestRendererColourBadge(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, true)
	r.Render(dto.ServerEvent{Type: "messages", Messages: []dto.MessageResponse{{ID: "a", User: "Ana", Initial: "A", AvatarColor: "#b40101", Pending: true}}})
	require.Contains(t, out.String(), "\x1b[38;2;180;1;1m[A]\x1b[0m")
}
