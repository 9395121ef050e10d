package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/store"
)

const createdAtField = "createdAt"

// MessagesPath is the collection holding a room's messages.
func MessagesPath(roomID string) string {
	return fmt.Sprintf("rooms/%s/messages", roomID)
}

// ChatRepository reads and writes chat messages in the document store.
type ChatRepository interface {
	Watch(ctx context.Context, roomID string) (store.Source[[]models.ChatMessage], error)
	// Append stores the message with a server assigned creation time and returns its id.
	Append(ctx context.Context, message models.ChatMessage) (string, error)
	Delete(ctx context.Context, roomID, messageID string) error
}

type chatRepository struct {
	store store.Store
}

// NewChatRepository constructs a chat repository backed by the document store.
func NewChatRepository(s store.Store) ChatRepository {
	return &chatRepository{store: s}
}

func (r *chatRepository) Watch(ctx context.Context, roomID string) (store.Source[[]models.ChatMessage], error) {
	sub, err := r.store.SubscribeQuery(ctx, MessagesPath(roomID), createdAtField)
	if err != nil {
		return nil, err
	}
	return store.Map(sub, func(snap store.Snapshot) []models.ChatMessage {
		messages := make([]models.ChatMessage, 0, len(snap.Documents))
		for _, doc := range snap.Documents {
			messages = append(messages, messageFromDocument(roomID, doc))
		}
		return messages
	}), nil
}

func (r *chatRepository) Append(ctx context.Context, message models.ChatMessage) (string, error) {
	return r.store.Create(ctx, MessagesPath(message.RoomID), store.Fields{
		"text":         message.Text,
		createdAtField: store.ServerTimestamp,
		"user":         message.Author,
		"uid":          message.AuthorID,
		"room":         message.RoomID,
	})
}

func (r *chatRepository) Delete(ctx context.Context, roomID, messageID string) error {
	return r.store.Delete(ctx, MessagesPath(roomID), messageID)
}

func messageFromDocument(roomID string, doc store.Document) models.ChatMessage {
	message := models.ChatMessage{
		ID:       doc.ID,
		RoomID:   doc.Fields.String("room"),
		Text:     doc.Fields.String("text"),
		Author:   doc.Fields.String("user"),
		AuthorID: doc.Fields.String("uid"),
	}
	if message.RoomID == "" {
		message.RoomID = roomID
	}
	if ts, ok := doc.Fields.Time(createdAtField); ok {
		message.CreatedAt = &ts
	}
	return message
}
