package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/observability"
	"github.com/noah-isme/gema-chat/internal/repository"
	"github.com/noah-isme/gema-chat/internal/store"
)

const (
	// DefaultTypingIdleTimeout is how long after the last keystroke the own signal resets.
	DefaultTypingIdleTimeout = 1500 * time.Millisecond
	// DefaultTypingStaleAfter is the age at which another user's signal stops counting.
	DefaultTypingStaleAfter = 2000 * time.Millisecond

	defaultWriteTimeout = 5 * time.Second
)

// ErrPresenceUnavailable is returned when a guest viewer asks for typing presence.
var ErrPresenceUnavailable = errors.New("typing presence requires a stable identity")

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall time so debounce behaviour can be driven from tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// PresenceOptions tunes the typing protocol. Zero values fall back to the defaults.
type PresenceOptions struct {
	IdleTimeout  time.Duration
	StaleAfter   time.Duration
	WriteTimeout time.Duration
	Clock        Clock
}

// PresenceService hands out per-viewer typing trackers.
type PresenceService interface {
	Track(roomID string, viewer models.Identity) *TypingTracker
	StaleAfter() time.Duration
}

type presenceService struct {
	repo   repository.TypingRepository
	opts   PresenceOptions
	logger zerolog.Logger
}

// NewPresenceService constructs the typing presence service.
func NewPresenceService(repo repository.TypingRepository, opts PresenceOptions, logger zerolog.Logger) PresenceService {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultTypingIdleTimeout
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultTypingStaleAfter
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}

	return &presenceService{
		repo:   repo,
		opts:   opts,
		logger: logger.With().Str("component", "presence_service").Logger(),
	}
}

func (s *presenceService) Track(roomID string, viewer models.Identity) *TypingTracker {
	return &TypingTracker{
		repo:   s.repo,
		room:   roomID,
		viewer: viewer,
		opts:   s.opts,
		logger: s.logger.With().Str("room_id", roomID).Str("user_id", viewer.StableID).Logger(),
	}
}

func (s *presenceService) StaleAfter() time.Duration {
	return s.opts.StaleAfter
}

// TypingTracker publishes one viewer's typing signal for one room and observes
// everyone else's. Writes are serialised; a superseded idle timer never writes.
type TypingTracker struct {
	repo   repository.TypingRepository
	room   string
	viewer models.Identity
	opts   PresenceOptions
	logger zerolog.Logger

	mu    sync.Mutex
	timer Timer
	gen   uint64
	left  bool
}

// OnTextChanged reacts to the viewer's input box changing.
func (t *TypingTracker) OnTextChanged(ctx context.Context, text string) {
	if t.viewer.IsGuest() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.left {
		return
	}

	t.cancelTimerLocked()
	if strings.TrimSpace(text) == "" {
		t.writeLocked(ctx, 0, "cleared")
		return
	}

	t.writeLocked(ctx, t.opts.Clock.Now().UnixMilli(), "typing")

	gen := t.gen
	t.timer = t.opts.Clock.AfterFunc(t.opts.IdleTimeout, func() {
		t.idle(gen)
	})
}

// OnSubmitted resets the signal after the viewer sent a message.
func (t *TypingTracker) OnSubmitted(ctx context.Context) {
	if t.viewer.IsGuest() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.left {
		return
	}

	t.cancelTimerLocked()
	t.writeLocked(ctx, 0, "submitted")
}

// Leave resets the signal and retires the tracker. Further calls are no-ops.
func (t *TypingTracker) Leave(ctx context.Context) {
	if t.viewer.IsGuest() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.left {
		return
	}

	t.cancelTimerLocked()
	t.left = true
	t.writeLocked(ctx, 0, "left")
}

// ObserveOthers streams the set of other users typing in the room. Staleness
// is evaluated when a snapshot arrives.
func (t *TypingTracker) ObserveOthers(ctx context.Context) (store.Source[models.ActiveTyperSet], error) {
	if t.viewer.IsGuest() {
		return nil, ErrPresenceUnavailable
	}

	signals, err := t.repo.Watch(ctx, t.room)
	if err != nil {
		return nil, err
	}

	return store.Map(signals, func(batch []models.TypingSignal) models.ActiveTyperSet {
		return ActiveTypers(batch, t.viewer.StableID, t.opts.Clock.Now(), t.opts.StaleAfter)
	}), nil
}

// ActiveTypers filters signals down to other users whose signal is younger than staleAfter.
func ActiveTypers(signals []models.TypingSignal, viewerID string, now time.Time, staleAfter time.Duration) models.ActiveTyperSet {
	active := make(models.ActiveTyperSet)
	nowMillis := now.UnixMilli()
	for _, signal := range signals {
		if signal.UserID == "" || signal.UserID == viewerID {
			continue
		}
		if signal.LastTyped <= 0 {
			continue
		}
		if nowMillis-signal.LastTyped < staleAfter.Milliseconds() {
			active[signal.UserID] = signal.Name
		}
	}
	return active
}

func (t *TypingTracker) idle(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.left || gen != t.gen {
		return
	}
	t.timer = nil

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.WriteTimeout)
	defer cancel()
	t.writeLocked(ctx, 0, "idle")
}

func (t *TypingTracker) cancelTimerLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *TypingTracker) writeLocked(ctx context.Context, lastTyped int64, reason string) {
	if ctx == nil {
		ctx = context.Background()
	}

	err := t.repo.Put(ctx, t.room, models.TypingSignal{
		UserID:    t.viewer.StableID,
		Name:      t.viewer.DisplayName,
		LastTyped: lastTyped,
	})
	if err != nil {
		observability.TypingWrites().WithLabelValues(reason, "error").Inc()
		t.logger.Warn().Err(err).Str("reason", reason).Msg("failed to write typing signal")
		return
	}
	observability.TypingWrites().WithLabelValues(reason, "ok").Inc()
}
