package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// exerciseStore checks the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	messages := "rooms/general/messages"
	typing := "rooms/general/typing"

	sub, err := s.SubscribeQuery(ctx, messages, "createdAt")
	require.NoError(t, err)
	defer sub.Close()

	initial := nextSnapshot(t, sub)
	require.Empty(t, initial.Documents)
	require.Equal(t, messages, initial.Path)

	first, err := s.Create(ctx, messages, Fields{"text": "hello", "createdAt": ServerTimestamp})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	snap := waitFor(t, sub, func(s Snapshot) bool { return len(s.Documents) == 1 })
	created, ok := snap.Documents[0].Fields.Time("createdAt")
	require.True(t, ok)
	require.False(t, created.IsZero())
	require.Equal(t, "hello", snap.Documents[0].Fields.String("text"))

	second, err := s.Create(ctx, messages, Fields{"text": "world", "createdAt": ServerTimestamp})
	require.NoError(t, err)
	snap = waitFor(t, sub, func(s Snapshot) bool { return len(s.Documents) == 2 })
	require.Equal(t, []string{first, second}, ids(snap.Documents))

	require.NoError(t, s.Delete(ctx, messages, first))
	snap = waitFor(t, sub, func(s Snapshot) bool { return len(s.Documents) == 1 })
	require.Equal(t, second, snap.Documents[0].ID)

	_, err = s.Get(ctx, messages, first)
	require.ErrorIs(t, err, ErrNotFound)

	typers, err := s.SubscribeCollection(ctx, typing)
	require.NoError(t, err)
	defer typers.Close()
	nextSnapshot(t, typers)

	require.NoError(t, s.Upsert(ctx, typing, "u1", Fields{"user": "ana", "uid": "u1", "lastTyped": int64(42)}, SetOptions{Merge: true}))
	require.NoError(t, s.Upsert(ctx, typing, "u1", Fields{"lastTyped": int64(0)}, SetOptions{Merge: true}))

	snap = waitFor(t, typers, func(s Snapshot) bool {
		return len(s.Documents) == 1 && s.Documents[0].Fields.Int64("lastTyped") == 0
	})
	require.Equal(t, "ana", snap.Documents[0].Fields.String("user"))
	require.Equal(t, "u1", snap.Documents[0].Fields.String("uid"))

	docs, err := s.List(ctx, typing)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc, err := s.Get(ctx, typing, "u1")
	require.NoError(t, err)
	require.Equal(t, "ana", doc.Fields.String("user"))

	require.NoError(t, s.Upsert(ctx, typing, "u1", Fields{"lastTyped": int64(7)}, SetOptions{}))
	doc, err = s.Get(ctx, typing, "u1")
	require.NoError(t, err)
	require.Equal(t, "", doc.Fields.String("user"))
	require.Equal(t, int64(7), doc.Fields.Int64("lastTyped"))

	require.NoError(t, typers.Close())
	require.NoError(t, sub.Close())
	select {
	case _, open := <-sub.Updates():
		if open {
			_, open = <-sub.Updates()
		}
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("updates channel not closed after Close")
	}
}

// exerciseIncrement checks counters clamp at zero and survive concurrent writers.
func exerciseIncrement(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	catalog := "catalog/rooms"

	n, err := s.Increment(ctx, catalog, "general", "count", 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = s.Increment(ctx, catalog, "general", "count", -5)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	require.NoError(t, s.Upsert(ctx, catalog, "general", Fields{"name": "general"}, SetOptions{Merge: true}))

	const writers, perWriter = 4, 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.Increment(ctx, catalog, "general", "count", 1); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := s.Get(ctx, catalog, "general")
	require.NoError(t, err)
	require.Equal(t, int64(writers*perWriter), doc.Fields.Int64("count"))
	require.Equal(t, "general", doc.Fields.String("name"))
}
