package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/store"
)

// TypingPath is the collection holding a room's typing signals, keyed by stable user id.
func TypingPath(roomID string) string {
	return fmt.Sprintf("rooms/%s/typing", roomID)
}

// TypingRepository stores one typing signal per user per room.
type TypingRepository interface {
	// Put merge-upserts the signal so sibling fields are never overwritten.
	Put(ctx context.Context, roomID string, signal models.TypingSignal) error
	Watch(ctx context.Context, roomID string) (store.Source[[]models.TypingSignal], error)
}

type typingRepository struct {
	store store.Store
}

// NewTypingRepository constructs a typing repository backed by the document store.
func NewTypingRepository(s store.Store) TypingRepository {
	return &typingRepository{store: s}
}

func (r *typingRepository) Put(ctx context.Context, roomID string, signal models.TypingSignal) error {
	return r.store.Upsert(ctx, TypingPath(roomID), signal.UserID, store.Fields{
		"user":      signal.Name,
		"lastTyped": signal.LastTyped,
		"uid":       signal.UserID,
	}, store.SetOptions{Merge: true})
}

func (r *typingRepository) Watch(ctx context.Context, roomID string) (store.Source[[]models.TypingSignal], error) {
	sub, err := r.store.SubscribeCollection(ctx, TypingPath(roomID))
	if err != nil {
		return nil, err
	}
	return store.Map(sub, func(snap store.Snapshot) []models.TypingSignal {
		signals := make([]models.TypingSignal, 0, len(snap.Documents))
		for _, doc := range snap.Documents {
			uid := doc.Fields.String("uid")
			if uid == "" {
				uid = doc.ID
			}
			signals = append(signals, models.TypingSignal{
				UserID:    uid,
				Name:      doc.Fields.String("user"),
				LastTyped: doc.Fields.Int64("lastTyped"),
			})
		}
		return signals
	}), nil
}
