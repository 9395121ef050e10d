// Package session holds the local state of the terminal chat client: who is
// signed in, which room they last entered and their display preferences.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	KeyUser     = "chatUsername"
	KeyToken    = "authToken"
	KeyRoom     = "chatRoom"
	KeyJoinTime = "joinTime"
	KeyTheme    = "theme"
)

// ErrEmptyName is returned when signing in with a blank name.
var ErrEmptyName = errors.New("name must not be empty")

// Theme is the colour scheme of the client.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// State is a copy of the persisted session.
type State struct {
	User     string
	Token    string
	Room     string
	JoinTime time.Time
	Theme    Theme
	// WelcomeBack is set when the user was already signed in at load time.
	WelcomeBack bool
}

// SignedIn reports whether a user name is present.
func (s State) SignedIn() bool {
	return s.User != ""
}

// Greeting is the line shown once a signed-in user is in a room.
func (s State) Greeting() string {
	if !s.SignedIn() || s.Room == "" {
		return ""
	}
	if s.WelcomeBack {
		return fmt.Sprintf("Welcome back %s! You are in the %q room.", s.User, s.Room)
	}
	return fmt.Sprintf("Welcome %s! You joined the %q room.", s.User, s.Room)
}

// Manager owns the session state and writes every change through to Storage.
type Manager struct {
	storage Storage
	now     func() time.Time

	mu    sync.Mutex
	state State
}

// NewManager creates a manager. Call Load before reading State.
func NewManager(storage Storage, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{storage: storage, now: now, state: State{Theme: ThemeLight}}
}

// Load reads the persisted session.
func (m *Manager) Load(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := State{Theme: ThemeLight}
	var err error
	if state.User, _, err = m.storage.Get(ctx, KeyUser); err != nil {
		return State{}, err
	}
	if state.Token, _, err = m.storage.Get(ctx, KeyToken); err != nil {
		return State{}, err
	}
	if state.Room, _, err = m.storage.Get(ctx, KeyRoom); err != nil {
		return State{}, err
	}

	theme, ok, err := m.storage.Get(ctx, KeyTheme)
	if err != nil {
		return State{}, err
	}
	if ok && Theme(theme) == ThemeDark {
		state.Theme = ThemeDark
	}

	joined, ok, err := m.storage.Get(ctx, KeyJoinTime)
	if err != nil {
		return State{}, err
	}
	if ok {
		if parsed, perr := time.Parse(time.RFC3339Nano, joined); perr == nil {
			state.JoinTime = parsed
			state.WelcomeBack = state.User != ""
		}
	}

	m.state = state
	return state, nil
}

// State returns the current session.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SignIn starts a fresh session for name.
func (m *Manager) SignIn(ctx context.Context, name string) (State, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return State{}, ErrEmptyName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	joined := m.now().UTC()
	if err := m.storage.Set(ctx, KeyUser, name); err != nil {
		return State{}, err
	}
	if err := m.storage.Set(ctx, KeyJoinTime, joined.Format(time.RFC3339Nano)); err != nil {
		return State{}, err
	}

	m.state.User = name
	m.state.JoinTime = joined
	m.state.WelcomeBack = false
	return m.state, nil
}

// SignInWithToken records an identity provider session. An existing join time
// is kept, in which case the user is greeted as returning.
func (m *Manager) SignInWithToken(ctx context.Context, name, token string) (State, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return State{}, ErrEmptyName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.Set(ctx, KeyUser, name); err != nil {
		return State{}, err
	}
	if err := m.storage.Set(ctx, KeyToken, token); err != nil {
		return State{}, err
	}

	m.state.User = name
	m.state.Token = token
	if m.state.JoinTime.IsZero() {
		joined := m.now().UTC()
		if err := m.storage.Set(ctx, KeyJoinTime, joined.Format(time.RFC3339Nano)); err != nil {
			return State{}, err
		}
		m.state.JoinTime = joined
		m.state.WelcomeBack = false
	} else {
		m.state.WelcomeBack = true
	}
	return m.state, nil
}

// EnterRoom remembers the room the user is in.
func (m *Manager) EnterRoom(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.storage.Set(ctx, KeyRoom, slug); err != nil {
		return err
	}
	m.state.Room = slug
	return nil
}

// ToggleTheme flips between the light and dark theme.
func (m *Manager) ToggleTheme(ctx context.Context) (Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := ThemeDark
	if m.state.Theme == ThemeDark {
		next = ThemeLight
	}
	if err := m.storage.Set(ctx, KeyTheme, string(next)); err != nil {
		return m.state.Theme, err
	}
	m.state.Theme = next
	return next, nil
}

// SignOut forgets the user and their room, keeping preferences.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.storage.Delete(ctx, KeyUser, KeyToken, KeyJoinTime, KeyRoom); err != nil {
		return err
	}
	m.state = State{Theme: m.state.Theme}
	return nil
}

// ClearAll wipes every persisted value.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.storage.Clear(ctx); err != nil {
		return err
	}
	m.state = State{Theme: ThemeLight}
	return nil
}
