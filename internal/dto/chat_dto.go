package dto

import (
	"time"

	"github.com/noah-isme/gema-chat/internal/models"
)

// Client event types accepted on the chat websocket.
const (
	ClientTextChanged = "text_changed"
	ClientSubmit      = "submit"
	ClientDelete      = "delete"
	ClientJoin        = "join"
)

// ClientEvent is a frame sent by a viewer over the chat websocket.
type ClientEvent struct {
	Type      string `json:"type" validate:"required,oneof=text_changed submit delete join"`
	Text      string `json:"text,omitempty" validate:"max=4000"`
	MessageID string `json:"message_id,omitempty" validate:"required_if=Type delete,max=128"`
	Confirmed bool   `json:"confirmed,omitempty"`
	Room      string `json:"room,omitempty" validate:"required_if=Type join,max=64"`
}

// ServerEvent is a frame pushed to a viewer. Type is one of joined, messages,
// typers, notice or error. An absent messages list means the room is empty.
type ServerEvent struct {
	Type        string            `json:"type"`
	Room        *RoomResponse     `json:"room,omitempty"`
	Messages    []MessageResponse `json:"messages,omitempty"`
	Typers      []string          `json:"typers,omitempty"`
	TypingLabel string            `json:"typing_label,omitempty"`
	SelfTyping  bool              `json:"self_typing,omitempty"`
	Notice      string            `json:"notice,omitempty"`
}

// MessageResponse is a message as rendered for one viewer.
type MessageResponse struct {
	ID          string     `json:"id"`
	Room        string     `json:"room"`
	Text        string     `json:"text"`
	HTML        string     `json:"html"`
	User        string     `json:"user"`
	UID         string     `json:"uid,omitempty"`
	CreatedAt   *time.Time `json:"created_at"`
	Pending     bool       `json:"pending,omitempty"`
	Own         bool       `json:"own,omitempty"`
	CanDelete   bool       `json:"can_delete"`
	AvatarColor string     `json:"avatar_color"`
	Initial     string     `json:"initial"`
}

// RoomJoinRequest asks the catalog to resolve or create a room.
type RoomJoinRequest struct {
	Name string `json:"name" validate:"required,min=1,max=64"`
}

// RoomResponse is the serialised catalog entry of a room.
type RoomResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Participants int        `json:"count"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}

// NewRoomResponse converts a model into a DTO.
func NewRoomResponse(room models.Room) RoomResponse {
	resp := RoomResponse{
		ID:           room.ID,
		Name:         room.Name,
		Description:  room.Description,
		Participants: room.Participants,
	}
	if !room.CreatedAt.IsZero() {
		created := room.CreatedAt
		resp.CreatedAt = &created
	}
	return resp
}

// NewRoomResponseSlice converts a slice of models into DTOs.
func NewRoomResponseSlice(rooms []models.Room) []RoomResponse {
	out := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, NewRoomResponse(room))
	}
	return out
}
