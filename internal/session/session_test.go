package session

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func storages(t *testing.T) map[string]func(t *testing.T) Storage {
	t.Helper()
	return map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage { return NewMemoryStorage() },
		"gorm": func(t *testing.T) Storage {
			name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
			db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
			require.NoError(t, err)
			sqlDB, err := db.DB()
			require.NoError(t, err)
			sqlDB.SetMaxOpenConns(1)
			t.Cleanup(func() { _ = sqlDB.Close() })

			storage, err := NewGormStorage(db)
			require.NoError(t, err)
			return storage
		},
	}
}

func TestManagerLifecycle(t *testing.T) {
	joined := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	for name, open := range storages(t) {
		t.Run(name, func(t *testing.T) {
			storage := open(t)
			ctx := context.Background()
			now := func() time.Time { return joined }

			first := NewManager(storage, now)
			state, err := first.Load(ctx)
			require.NoError(t, err)
			require.False(t, state.SignedIn())
			require.Equal(t, ThemeLight, state.Theme)

			_, err = first.SignIn(ctx, "   ")
			require.ErrorIs(t, err, ErrEmptyName)

			state, err = first.SignIn(ctx, "  Ana ")
			require.NoError(t, err)
			require.Equal(t, "Ana", state.User)
			require.False(t, state.WelcomeBack)
			require.NoError(t, first.EnterRoom(ctx, "general"))
			require.Equal(t, `Welcome Ana! You joined the "general" room.`, first.State().Greeting())

			theme, err := first.ToggleTheme(ctx)
			require.NoError(t, err)
			require.Equal(t, ThemeDark, theme)

			second := NewManager(storage, now)
			state, err = second.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, "Ana", state.User)
			require.Equal(t, "general", state.Room)
			require.Equal(t, ThemeDark, state.Theme)
			require.True(t, state.JoinTime.Equal(joined))
			require.True(t, state.WelcomeBack)
			require.Equal(t, `Welcome back Ana! You are in the "general" room.`, state.Greeting())

			require.NoError(t, second.SignOut(ctx))
			state = second.State()
			require.False(t, state.SignedIn())
			require.Empty(t, state.Room)
			require.Equal(t, ThemeDark, state.Theme)

			third := NewManager(storage, now)
			state, err = third.Load(ctx)
			require.NoError(t, err)
			require.False(t, state.SignedIn())
			require.False(t, state.WelcomeBack)
			require.Equal(t, ThemeDark, state.Theme)

			require.NoError(t, third.ClearAll(ctx))
			state, err = NewManager(storage, now).Load(ctx)
			require.NoError(t, err)
			require.Equal(t, ThemeLight, state.Theme)
		})
	}
}

func TestManagerTokenSignInKeepsJoinTime(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	m := NewManager(storage, now)
	_, err := m.Load(ctx)
	require.NoError(t, err)

	state, err := m.SignInWithToken(ctx, "ana@example.com", "tok-1")
	require.NoError(t, err)
	require.False(t, state.WelcomeBack)
	require.True(t, state.JoinTime.Equal(clock))

	clock = clock.Add(time.Hour)
	state, err = m.SignInWithToken(ctx, "ana@example.com", "tok-2")
	require.NoError(t, err)
	require.True(t, state.WelcomeBack)
	require.True(t, state.JoinTime.Equal(clock.Add(-time.Hour)))

	token, ok, err := storage.Get(ctx, KeyToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok-2", token)
}
