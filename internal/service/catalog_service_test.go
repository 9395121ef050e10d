package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/repository"
	"github.com/noah-isme/gema-chat/internal/store"
)

func TestNormalizeRoomName(t *testing.T) {
	cases := map[string]string{
		"General":          "general",
		"  Study Group  ":  "study-group",
		"dev_ops!!":        "dev_ops",
		"Café  Talk":       "caf-talk",
		"   ":              "",
		"!!!":              "",
		"already-a-slug_1": "already-a-slug_1",
	}
	for raw, want := range cases {
		require.Equal(t, want, NormalizeRoomName(raw), raw)
	}
}

func TestCatalogServiceJoinCreatesOnce(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryOptions{})
	defer s.Close()
	clock := newFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	repo := repository.NewRoomRepository(s)
	svc := NewCatalogService(repo, clock, zerolog.Nop())
	ctx := context.Background()

	room, err := svc.Join(ctx, "  Book Club ")
	require.NoError(t, err)
	require.Equal(t, "book-club", room.ID)
	require.Equal(t, "A custom room.", room.Description)
	require.Equal(t, clock.Now(), room.CreatedAt)

	require.NoError(t, repo.Create(ctx, models.Room{ID: "book-club", Name: "book-club", Description: "Edited", CreatedAt: room.CreatedAt}))
	clock.Advance(time.Hour)

	again, err := svc.Join(ctx, "book club")
	require.NoError(t, err)
	require.Equal(t, "Edited", again.Description)
	require.Equal(t, room.CreatedAt, again.CreatedAt)
}

func TestCatalogServiceJoinRejectsEmptySlug(t *testing.T) {
	svc := NewCatalogService(repository.NewRoomRepository(store.NewMemoryStore(store.MemoryOptions{})), nil, zerolog.Nop())

	_, err := svc.Join(context.Background(), " ?! ")
	require.ErrorIs(t, err, ErrInvalidRoomName)
}

func TestCatalogServiceJoinPredefinedKeepsDescription(t *testing.T) {
	svc := NewCatalogService(repository.NewRoomRepository(store.NewMemoryStore(store.MemoryOptions{})), nil, zerolog.Nop())

	room, err := svc.Join(context.Background(), "DEVS")
	require.NoError(t, err)
	require.Equal(t, "Discussions for developers and coders.", room.Description)
}

func TestCatalogServiceListMergesPredefined(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryOptions{})
	defer s.Close()
	repo := repository.NewRoomRepository(s)
	svc := NewCatalogService(repo, nil, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, repository.CatalogPath, "lounge", store.Fields{"name": "lounge"}, store.SetOptions{Merge: true}))
	require.NoError(t, repo.SetParticipants(ctx, "general", 4))

	rooms, err := svc.List(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(rooms))
	byID := make(map[string]models.Room, len(rooms))
	for _, room := range rooms {
		ids = append(ids, room.ID)
		byID[room.ID] = room
	}
	require.Equal(t, []string{"devs", "fun", "general", "lounge", "random"}, ids)
	require.Equal(t, "Custom room", byID["lounge"].Description)
	require.Equal(t, 4, byID["general"].Participants)
	require.Equal(t, "General discussions and announcements.", byID["general"].Description)
	require.Equal(t, 0, byID["fun"].Participants)
}

func TestCatalogServiceAdjustParticipantsClamps(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryOptions{})
	defer s.Close()
	repo := repository.NewRoomRepository(s)
	svc := NewCatalogService(repo, nil, zerolog.Nop())
	ctx := context.Background()

	svc.AdjustParticipants(ctx, "fun", 1)
	svc.AdjustParticipants(ctx, "fun", 1)
	room, err := repo.Get(ctx, "fun")
	require.NoError(t, err)
	require.Equal(t, 2, room.Participants)

	svc.AdjustParticipants(ctx, "fun", -5)
	room, err = repo.Get(ctx, "fun")
	require.NoError(t, err)
	require.Equal(t, 0, room.Participants)
}

func TestCatalogServiceAdjustParticipantsConcurrent(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryOptions{})
	defer s.Close()
	repo := repository.NewRoomRepository(s)
	svc := NewCatalogService(repo, nil, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.AdjustParticipants(ctx, "general", 1)
		}()
		go func() {
			defer wg.Done()
			svc.AdjustParticipants(ctx, "devs", 1)
		}()
	}
	wg.Wait()

	for _, id := range []string{"general", "devs"} {
		room, err := repo.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 50, room.Participants, id)
	}
}
