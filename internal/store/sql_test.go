package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestSQLStoreBehaviour(t *testing.T) {
	s, err := NewSQLStore(SQLOptions{DB: openSQLite(t), Logger: zerolog.Nop()})
	require.NoError(t, err)
	exerciseStore(t, s)
	exerciseIncrement(t, s)
}

func TestSQLStoreSharedNotifierAcrossInstances(t *testing.T) {
	db := openSQLite(t)
	notifier := NewLocalNotifier()

	reader, err := NewSQLStore(SQLOptions{DB: db, Notifier: notifier})
	require.NoError(t, err)
	writer, err := NewSQLStore(SQLOptions{DB: db, Notifier: notifier})
	require.NoError(t, err)

	ctx := context.Background()
	sub, err := reader.SubscribeQuery(ctx, "rooms/general/messages", "createdAt")
	require.NoError(t, err)
	defer sub.Close()
	nextSnapshot(t, sub)

	_, err = writer.Create(ctx, "rooms/general/messages", Fields{"text": "from node b", "createdAt": ServerTimestamp})
	require.NoError(t, err)

	snap := waitFor(t, sub, func(s Snapshot) bool { return len(s.Documents) == 1 })
	require.Equal(t, "from node b", snap.Documents[0].Fields.String("text"))
}

func TestSQLStoreUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2023, 12, 24, 18, 0, 0, 0, time.UTC)
	s, err := NewSQLStore(SQLOptions{DB: openSQLite(t), Now: func() time.Time { return fixed }})
	require.NoError(t, err)

	id, err := s.Create(context.Background(), "rooms/a/messages", Fields{"createdAt": ServerTimestamp})
	require.NoError(t, err)

	doc, err := s.Get(context.Background(), "rooms/a/messages", id)
	require.NoError(t, err)
	got, ok := doc.Fields.Time("createdAt")
	require.True(t, ok)
	require.True(t, fixed.Equal(got))
}

func TestNATSNotifierSubjectMapping(t *testing.T) {
	_, err := NewNATSNotifier(nil, "", zerolog.Nop())
	require.Error(t, err)

	n := &NATSNotifier{subject: "chat.changes"}
	require.Equal(t, "chat.changes.rooms.general.typing", n.Subject("rooms/general/typing"))
	require.Equal(t, "chat.changes.catalog.rooms", n.Subject("/catalog/rooms/"))
}
