package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/repository"
	"github.com/noah-isme/gema-chat/internal/store"
)

const (
	customRoomDescription   = "A custom room."
	fallbackRoomDescription = "Custom room"
)

// ErrInvalidRoomName indicates the room name is empty once normalised.
var ErrInvalidRoomName = errors.New("room name must contain a letter, digit, dash or underscore")

// PredefinedRooms are always listed, even before anyone joined them.
var PredefinedRooms = []models.Room{
	{ID: "general", Name: "general", Description: "General discussions and announcements."},
	{ID: "fun", Name: "fun", Description: "For lighthearted conversations and jokes."},
	{ID: "devs", Name: "devs", Description: "Discussions for developers and coders."},
	{ID: "random", Name: "random", Description: "Anything goes here!"},
}

// CatalogService resolves room names and tracks participant counts.
type CatalogService interface {
	// Join normalises rawName and creates the room on first use.
	Join(ctx context.Context, rawName string) (models.Room, error)
	List(ctx context.Context) ([]models.Room, error)
	// AdjustParticipants is best effort; failures are logged, never returned.
	AdjustParticipants(ctx context.Context, roomID string, delta int)
}

type catalogService struct {
	repo   repository.RoomRepository
	clock  Clock
	logger zerolog.Logger
}

// NewCatalogService constructs the room catalog. A nil clock uses the system clock.
func NewCatalogService(repo repository.RoomRepository, clock Clock, logger zerolog.Logger) CatalogService {
	if clock == nil {
		clock = SystemClock()
	}
	return &catalogService{
		repo:   repo,
		clock:  clock,
		logger: logger.With().Str("component", "catalog_service").Logger(),
	}
}

// NormalizeRoomName turns free text into a room slug.
func NormalizeRoomName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.Join(strings.Fields(name), "-")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *catalogService) Join(ctx context.Context, rawName string) (models.Room, error) {
	slug := NormalizeRoomName(rawName)
	if slug == "" {
		return models.Room{}, ErrInvalidRoomName
	}

	room, err := s.repo.Get(ctx, slug)
	if err == nil {
		return withDefaults(room), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Room{}, fmt.Errorf("lookup room %q: %w", slug, err)
	}

	room = models.Room{
		ID:          slug,
		Name:        slug,
		Description: customRoomDescription,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if predefined, ok := predefinedRoom(slug); ok {
		room.Description = predefined.Description
	}

	if err := s.repo.Create(ctx, room); err != nil {
		return models.Room{}, fmt.Errorf("create room %q: %w", slug, err)
	}

	s.logger.Info().Str("room_id", slug).Msg("room created")
	return room, nil
}

func (s *catalogService) List(ctx context.Context) ([]models.Room, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	merged := make(map[string]models.Room, len(PredefinedRooms)+len(stored))
	for _, room := range PredefinedRooms {
		merged[room.ID] = room
	}

	for _, room := range stored {
		base, ok := merged[room.ID]
		if !ok {
			merged[room.ID] = withDefaults(room)
			continue
		}
		if room.Name != "" {
			base.Name = room.Name
		}
		if room.Description != "" {
			base.Description = room.Description
		}
		if !room.CreatedAt.IsZero() {
			base.CreatedAt = room.CreatedAt
		}
		base.Participants = room.Participants
		merged[room.ID] = base
	}

	rooms := make([]models.Room, 0, len(merged))
	for _, room := range merged {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (s *catalogService) AdjustParticipants(ctx context.Context, roomID string, delta int) {
	if roomID == "" || delta == 0 {
		return
	}

	if _, err := s.repo.AddParticipants(ctx, roomID, delta); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to update participant count")
	}
}

func predefinedRoom(slug string) (models.Room, bool) {
	for _, room := range PredefinedRooms {
		if room.ID == slug {
			return room, true
		}
	}
	return models.Room{}, false
}

func withDefaults(room models.Room) models.Room {
	if room.Name == "" {
		room.Name = room.ID
	}
	if room.Description == "" {
		if predefined, ok := predefinedRoom(room.ID); ok {
			room.Description = predefined.Description
		} else {
			room.Description = fallbackRoomDescription
		}
	}
	return room
}
