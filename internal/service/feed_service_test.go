package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/repository"
	"github.com/noah-isme/gema-chat/internal/store"
)

type failingChatRepo struct {
	repository.ChatRepository
	err error
}

func (f failingChatRepo) Append(ctx context.Context, msg models.ChatMessage) (string, error) {
	return "", f.err
}

func (f failingChatRepo) Delete(ctx context.Context, roomID, messageID string) error {
	return f.err
}

func waitMessages(t *testing.T, src store.Source[[]models.ChatMessage], match func([]models.ChatMessage) bool) []models.ChatMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case batch, ok := <-src.Updates():
			require.True(t, ok)
			if match(batch) {
				return batch
			}
		case <-deadline:
			t.Fatal("timed out waiting for messages")
			return nil
		}
	}
}

func TestCanDeleteTruthTable(t *testing.T) {
	sent := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := models.ChatMessage{ID: "m1", AuthorID: "u1", CreatedAt: &sent}

	cases := []struct {
		name   string
		msg    models.ChatMessage
		viewer string
		now    time.Time
		want   bool
	}{
		{name: "author within window", msg: msg, viewer: "u1", now: sent.Add(4*time.Minute + 59*time.Second), want: true},
		{name: "author just sent", msg: msg, viewer: "u1", now: sent, want: true},
		{name: "author at boundary", msg: msg, viewer: "u1", now: sent.Add(5 * time.Minute), want: false},
		{name: "author after window", msg: msg, viewer: "u1", now: sent.Add(5*time.Minute + time.Second), want: false},
		{name: "other viewer", msg: msg, viewer: "u2", now: sent.Add(time.Minute), want: false},
		{name: "guest viewer", msg: models.ChatMessage{ID: "m2", CreatedAt: &sent}, viewer: "", now: sent, want: false},
		{name: "pending timestamp", msg: models.ChatMessage{ID: "m3", AuthorID: "u1"}, viewer: "u1", now: sent, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CanDelete(tc.msg, tc.viewer, tc.now, DefaultDeleteWindow))
		})
	}
}

func TestFeedServiceSendBlankIsNoop(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryOptions{})
	defer s.Close()
	svc := NewFeedService(repository.NewChatRepository(s), 0, zerolog.Nop())
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\n\t", " \r\n "} {
		id, err := svc.Send(ctx, "general", models.Identity{StableID: "u1", DisplayName: "Ana"}, text)
		require.NoError(t, err)
		require.Empty(t, id)
	}

	docs, err := s.List(ctx, repository.MessagesPath("general"))
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestFeedServiceSendStoresTextVerbatim(t *testing.T) {
	s := store.NewMemoryStore(store.MemoryOptions{})
	defer s.Close()
	svc := NewFeedService(repository.NewChatRepository(s), 0, zerolog.Nop())
	ctx := context.Background()

	stream, err := svc.Subscribe(ctx, "general")
	require.NoError(t, err)
	defer stream.Close()

	texts := []string{
		"a < b && c > d",
		`Tom & Jerry's "show"`,
		"<3 you",
		"<script>alert(1)</script>",
	}
	_, err = svc.Send(ctx, "general", models.Identity{StableID: "u1", DisplayName: "Ana"}, "  "+texts[0]+"\n")
	require.NoError(t, err)
	for _, text := range texts[1:] {
		_, err = svc.Send(ctx, "general", models.Identity{DisplayName: "Guest"}, text)
		require.NoError(t, err)
	}

	batch := waitMessages(t, stream, func(m []models.ChatMessage) bool { return len(m) == len(texts) })
	got := make([]string, 0, len(batch))
	byText := make(map[string]models.ChatMessage, len(batch))
	for _, msg := range batch {
		got = append(got, msg.Text)
		byText[msg.Text] = msg
	}
	require.ElementsMatch(t, texts, got)
	require.Equal(t, "Ana", byText[texts[0]].Author)
	require.Equal(t, "u1", byText[texts[0]].AuthorID)
	require.Empty(t, byText[texts[1]].AuthorID)
}

func TestFeedServiceDeleteWindowIsConfigurable(t *testing.T) {
	require.Equal(t, DefaultDeleteWindow, NewFeedService(nil, 0, zerolog.Nop()).DeleteWindow())
	require.Equal(t, 90*time.Second, NewFeedService(nil, 90*time.Second, zerolog.Nop()).DeleteWindow())
}

func TestFeedServiceDeleteWindowScenario(t *testing.T) {
	sentAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := store.NewMemoryStore(store.MemoryOptions{Now: func() time.Time { return sentAt }})
	defer s.Close()
	svc := NewFeedService(repository.NewChatRepository(s), 0, zerolog.Nop())
	ctx := context.Background()

	stream, err := svc.Subscribe(ctx, "general")
	require.NoError(t, err)
	defer stream.Close()

	id, err := svc.Send(ctx, "general", models.Identity{StableID: "u1", DisplayName: "Ana"}, "oops")
	require.NoError(t, err)

	batch := waitMessages(t, stream, func(m []models.ChatMessage) bool { return len(m) == 1 && !m[0].Pending() })
	msg := batch[0]
	require.Equal(t, id, msg.ID)

	require.False(t, svc.CanDelete(msg, "u1", sentAt.Add(5*time.Minute+time.Second)))
	require.True(t, svc.CanDelete(msg, "u1", sentAt.Add(4*time.Minute+59*time.Second)))

	require.NoError(t, svc.Delete(ctx, "general", id))
	waitMessages(t, stream, func(m []models.ChatMessage) bool { return len(m) == 0 })
}

func TestFeedServiceWrapsStoreErrors(t *testing.T) {
	boom := errors.New("store unavailable")
	svc := NewFeedService(failingChatRepo{err: boom}, time.Minute, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Send(ctx, "general", models.Identity{StableID: "u1", DisplayName: "Ana"}, "hello")
	require.ErrorIs(t, err, boom)

	err = svc.Delete(ctx, "general", "m1")
	require.ErrorIs(t, err, boom)
}
