package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreBehaviour(t *testing.T) {
	exerciseStore(t, NewMemoryStore(MemoryOptions{Logger: zerolog.Nop()}))
	exerciseIncrement(t, NewMemoryStore(MemoryOptions{Logger: zerolog.Nop()}))
}

func TestMemoryStorePendingTimestampResolvesAndReorders(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	s := NewMemoryStore(MemoryOptions{
		Now:            func() time.Time { return clock },
		TimestampDelay: 50 * time.Millisecond,
	})
	defer s.Close()

	ctx := context.Background()
	path := "rooms/devs/messages"

	// An already acknowledged message written through Upsert.
	require.NoError(t, s.Upsert(ctx, path, "old", Fields{"text": "old", "createdAt": base.Add(-time.Minute)}, SetOptions{}))

	sub, err := s.SubscribeQuery(ctx, path, "createdAt")
	require.NoError(t, err)
	defer sub.Close()
	nextSnapshot(t, sub)

	id, err := s.Create(ctx, path, Fields{"text": "new", "createdAt": ServerTimestamp})
	require.NoError(t, err)

	pending := waitFor(t, sub, func(s Snapshot) bool { return len(s.Documents) == 2 })
	require.Equal(t, []string{"old", id}, ids(pending.Documents))
	_, resolved := pending.Documents[1].Fields.Time("createdAt")
	require.False(t, resolved)

	acked := waitFor(t, sub, func(s Snapshot) bool {
		if len(s.Documents) != 2 {
			return false
		}
		_, ok := s.Documents[1].Fields.Time("createdAt")
		return ok
	})
	ts, _ := acked.Documents[1].Fields.Time("createdAt")
	require.True(t, ts.Equal(base))
}

func TestMemoryStoreClosedRejectsWrites(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	require.NoError(t, s.Close())

	_, err := s.Create(context.Background(), "rooms/x/messages", Fields{"text": "hi"})
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Upsert(context.Background(), "rooms/x/typing", "u", Fields{}, SetOptions{Merge: true}), ErrClosed)

	_, err = s.SubscribeCollection(context.Background(), "rooms/x/typing")
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStoreSubscriptionEndsWithContext(t *testing.T) {
	s := NewMemoryStore(MemoryOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.SubscribeCollection(ctx, "rooms/x/typing")
	require.NoError(t, err)
	nextSnapshot(t, sub)

	cancel()
	select {
	case _, open := <-sub.Updates():
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription did not end with its context")
	}
	require.NoError(t, sub.Close())
}
