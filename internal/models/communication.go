package models

import (
	"sort"
	"strings"
	"time"
)

// Identity describes the viewer of a chat session. StableID is empty for guests.
type Identity struct {
	StableID    string `json:"stable_id,omitempty"`
	DisplayName string `json:"display_name"`
}

// IsGuest reports whether the viewer has no stable identifier.
func (i Identity) IsGuest() bool {
	return strings.TrimSpace(i.StableID) == ""
}

// Room is the catalog entry of a chat channel.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Participants int       `json:"count"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatMessage is a single message posted into a room. CreatedAt is nil while
// the store has not acknowledged the write yet.
type ChatMessage struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"room"`
	Text      string     `json:"text"`
	Author    string     `json:"user"`
	AuthorID  string     `json:"uid,omitempty"`
	CreatedAt *time.Time `json:"created_at"`
}

// Pending reports whether the server timestamp is still missing.
func (m ChatMessage) Pending() bool {
	return m.CreatedAt == nil
}

// TypingSignal is the per-user, per-room typing record. LastTyped is epoch
// milliseconds; zero means the user is not typing.
type TypingSignal struct {
	UserID    string `json:"uid"`
	Name      string `json:"user"`
	LastTyped int64  `json:"lastTyped"`
}

// ActiveTyperSet maps stable ids of other users currently typing to their display names.
type ActiveTyperSet map[string]string

// Names returns the display names sorted alphabetically, skipping excludeName
// so a viewer never sees their own name under another session.
func (s ActiveTyperSet) Names(excludeName string) []string {
	names := make([]string, 0, len(s))
	for _, name := range s {
		if excludeName != "" && name == excludeName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypingLabel renders the "who is typing" line, or "" when nobody is.
func TypingLabel(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	default:
		return strings.Join(names, ", ") + " are typing..."
	}
}
