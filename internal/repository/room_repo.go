package repository

import (
	"context"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/store"
)

// CatalogPath is the collection holding room metadata keyed by slug.
const CatalogPath = "catalog/rooms"

// RoomRepository persists room metadata.
type RoomRepository interface {
	// Get returns store.ErrNotFound for unknown rooms.
	Get(ctx context.Context, roomID string) (models.Room, error)
	Create(ctx context.Context, room models.Room) error
	List(ctx context.Context) ([]models.Room, error)
	SetParticipants(ctx context.Context, roomID string, count int) error
	// AddParticipants applies delta atomically and returns the new count, clamped at zero.
	AddParticipants(ctx context.Context, roomID string, delta int) (int, error)
}

type roomRepository struct {
	store store.Store
}

// NewRoomRepository constructs a room repository backed by the document store.
func NewRoomRepository(s store.Store) RoomRepository {
	return &roomRepository{store: s}
}

func (r *roomRepository) Get(ctx context.Context, roomID string) (models.Room, error) {
	doc, err := r.store.Get(ctx, CatalogPath, roomID)
	if err != nil {
		return models.Room{}, err
	}
	return roomFromDocument(doc), nil
}

func (r *roomRepository) Create(ctx context.Context, room models.Room) error {
	return r.store.Upsert(ctx, CatalogPath, room.ID, store.Fields{
		"name":        room.Name,
		"description": room.Description,
		"createdAt":   room.CreatedAt,
	}, store.SetOptions{Merge: true})
}

func (r *roomRepository) List(ctx context.Context) ([]models.Room, error) {
	docs, err := r.store.List(ctx, CatalogPath)
	if err != nil {
		return nil, err
	}
	rooms := make([]models.Room, 0, len(docs))
	for _, doc := range docs {
		rooms = append(rooms, roomFromDocument(doc))
	}
	return rooms, nil
}

func (r *roomRepository) SetParticipants(ctx context.Context, roomID string, count int) error {
	return r.store.Upsert(ctx, CatalogPath, roomID, store.Fields{"count": count}, store.SetOptions{Merge: true})
}

func (r *roomRepository) AddParticipants(ctx context.Context, roomID string, delta int) (int, error) {
	next, err := r.store.Increment(ctx, CatalogPath, roomID, "count", int64(delta))
	if err != nil {
		return 0, err
	}
	return int(next), nil
}

func roomFromDocument(doc store.Document) models.Room {
	room := models.Room{
		ID:           doc.ID,
		Name:         doc.Fields.String("name"),
		Description:  doc.Fields.String("description"),
		Participants: int(doc.Fields.Int64("count")),
	}
	if created, ok := doc.Fields.Time("createdAt"); ok {
		room.CreatedAt = created
	}
	return room
}
