package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/store"
)

// Notices shown to the viewer when an action is rejected or fails.
const (
	NoticeNoRoom             = "Join a room before sending messages."
	NoticeDeleteNeedsConfirm = "delete requires confirmation"
	NoticeSendFailed         = "Failed to send message. Please try again."
	NoticeDeleteFailed       = "Failed to delete message. Please try again."
)

// DeleteNotAllowedNotice tells the viewer how long authors may delete their messages.
func DeleteNotAllowedNotice(window time.Duration) string {
	return fmt.Sprintf("You can only delete your own messages within %s of sending them.", windowText(window))
}

func windowText(window time.Duration) string {
	if window >= time.Minute && window%time.Minute == 0 {
		return plural(int(window/time.Minute), "minute")
	}
	return plural(int(window.Round(time.Second)/time.Second), "second")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

const sessionEventBufferSize = 32

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("chat session closed")
	// ErrNoRoom is returned when an operation needs a joined room.
	ErrNoRoom = errors.New("chat session has not joined a room")
	// ErrDeleteNotConfirmed indicates a delete request without confirmation.
	ErrDeleteNotConfirmed = errors.New("delete requires confirmation")
)

// EventType names the kind of update pushed to a viewer.
type EventType string

const (
	EventJoined   EventType = "joined"
	EventMessages EventType = "messages"
	EventTypers   EventType = "typers"
	EventNotice   EventType = "notice"
)

// MessageView is a message as one viewer sees it.
type MessageView struct {
	models.ChatMessage
	Own       bool
	CanDelete bool
}

// Event is a single update for the viewer of a session.
type Event struct {
	Type     EventType
	Room     models.Room
	Messages []MessageView
	Typers   []string
	// SelfTyping is set when nobody else is typing but the viewer has a draft.
	SelfTyping bool
	Notice     string
}

// SessionDeps bundles the services a chat session drives.
type SessionDeps struct {
	Catalog  CatalogService
	Feed     FeedService
	Presence PresenceService
	Clock    Clock
	Logger   zerolog.Logger
}

// ChatSession is the server side of one connected viewer. It owns the viewer's
// current room, their typing tracker and both live subscriptions.
type ChatSession struct {
	deps   SessionDeps
	viewer models.Identity
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	doneOnce sync.Once
	mu       sync.Mutex
	closed   bool
	active   *roomAttachment

	viewMu sync.Mutex
	latest []models.ChatMessage
	others []string
	draft  bool
}

type roomAttachment struct {
	room     models.Room
	tracker  *TypingTracker
	messages store.Source[[]models.ChatMessage]
	typers   store.Source[models.ActiveTyperSet]
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewChatSession creates a session for viewer. Call Close to release it.
func NewChatSession(deps SessionDeps, viewer models.Identity) *ChatSession {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChatSession{
		deps:   deps,
		viewer: viewer,
		logger: deps.Logger.With().Str("component", "chat_session").Str("user", viewer.DisplayName).Logger(),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, sessionEventBufferSize),
		done:   make(chan struct{}),
	}
}

// Events delivers updates for the viewer. The channel is never closed; select
// on Done to notice the end of the session.
func (s *ChatSession) Events() <-chan Event {
	return s.events
}

// Done is closed once Close has been called.
func (s *ChatSession) Done() <-chan struct{} {
	return s.done
}

// Viewer returns the identity the session was opened for.
func (s *ChatSession) Viewer() models.Identity {
	return s.viewer
}

// Room returns the currently joined room, if any.
func (s *ChatSession) Room() (models.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return models.Room{}, false
	}
	return s.active.room, true
}

// Join attaches to rawName and then leaves the previous room. When rawName
// cannot be joined the session stays where it was.
func (s *ChatSession) Join(ctx context.Context, rawName string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Room{}, ErrSessionClosed
	}

	room, err := s.deps.Catalog.Join(ctx, rawName)
	if err != nil {
		return models.Room{}, err
	}

	messages, err := s.deps.Feed.Subscribe(s.ctx, room.ID)
	if err != nil {
		return models.Room{}, err
	}

	att := &roomAttachment{
		room:     room,
		tracker:  s.deps.Presence.Track(room.ID, s.viewer),
		messages: messages,
		stop:     make(chan struct{}),
	}

	if !s.viewer.IsGuest() {
		typers, err := att.tracker.ObserveOthers(s.ctx)
		if err != nil {
			_ = messages.Close()
			return models.Room{}, err
		}
		att.typers = typers
	}

	s.detachLocked(ctx)
	s.resetView()
	s.active = att
	s.deps.Catalog.AdjustParticipants(ctx, room.ID, 1)

	s.emit(att.stop, Event{Type: EventJoined, Room: room})

	att.wg.Add(1)
	go s.forwardMessages(att)
	if att.typers != nil {
		att.wg.Add(1)
		go s.forwardTypers(att)
	}

	s.logger.Debug().Str("room_id", room.ID).Msg("joined room")
	return room, nil
}

// TextChanged reports the viewer's draft changed.
func (s *ChatSession) TextChanged(ctx context.Context, text string) {
	att := s.current()
	if att == nil {
		return
	}

	s.viewMu.Lock()
	hadDraft := s.draft
	s.draft = strings.TrimSpace(text) != ""
	changed := hadDraft != s.draft
	others := s.others
	s.viewMu.Unlock()

	att.tracker.OnTextChanged(ctx, text)

	if changed && len(others) == 0 {
		s.emitTypers(att.stop, others)
	}
}

// Submit sends text to the current room. Blank text is ignored.
func (s *ChatSession) Submit(ctx context.Context, text string) (string, error) {
	att := s.current()
	if att == nil {
		s.emit(nil, Event{Type: EventNotice, Notice: NoticeNoRoom})
		return "", ErrNoRoom
	}

	id, err := s.deps.Feed.Send(ctx, att.room.ID, s.viewer, text)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", att.room.ID).Msg("failed to send message")
		s.emit(att.stop, Event{Type: EventNotice, Notice: NoticeSendFailed})
		return "", err
	}
	if id == "" {
		return "", nil
	}

	s.viewMu.Lock()
	s.draft = false
	s.viewMu.Unlock()

	att.tracker.OnSubmitted(ctx)
	return id, nil
}

// RequestDelete removes messageID when the viewer confirmed and may delete it.
func (s *ChatSession) RequestDelete(ctx context.Context, messageID string, confirmed bool) error {
	att := s.current()
	if att == nil {
		s.emit(nil, Event{Type: EventNotice, Notice: NoticeNoRoom})
		return ErrNoRoom
	}

	msg, found := s.lookup(messageID)
	if !found || !s.deps.Feed.CanDelete(msg, s.viewer.StableID, s.deps.Clock.Now()) {
		s.emit(att.stop, Event{Type: EventNotice, Notice: DeleteNotAllowedNotice(s.deps.Feed.DeleteWindow())})
		return ErrDeleteNotAllowed
	}
	if !confirmed {
		s.emit(att.stop, Event{Type: EventNotice, Notice: NoticeDeleteNeedsConfirm})
		return ErrDeleteNotConfirmed
	}

	if err := s.deps.Feed.Delete(ctx, att.room.ID, messageID); err != nil {
		s.logger.Warn().Err(err).Str("room_id", att.room.ID).Str("message_id", messageID).Msg("failed to delete message")
		s.emit(att.stop, Event{Type: EventNotice, Notice: NoticeDeleteFailed})
		return err
	}
	return nil
}

// Leave detaches from the current room without closing the session.
func (s *ChatSession) Leave(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked(ctx)
}

// Close tears the session down. Safe to call more than once.
func (s *ChatSession) Close(ctx context.Context) {
	// Unblock pending emits before waiting for the lock.
	s.doneOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	s.detachLocked(ctx)
	s.cancel()
}

// detachLocked cancels the idle timer and clears the typing signal, then closes
// the message stream and finally the typing stream.
func (s *ChatSession) detachLocked(ctx context.Context) {
	att := s.active
	if att == nil {
		return
	}
	s.active = nil

	att.tracker.Leave(ctx)
	if err := att.messages.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("message stream closed with error")
	}
	if att.typers != nil {
		if err := att.typers.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("typing stream closed with error")
		}
	}
	close(att.stop)
	att.wg.Wait()

	s.deps.Catalog.AdjustParticipants(ctx, att.room.ID, -1)
	s.logger.Debug().Str("room_id", att.room.ID).Msg("left room")
}

func (s *ChatSession) current() *roomAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *ChatSession) forwardMessages(att *roomAttachment) {
	defer att.wg.Done()
	for batch := range att.messages.Updates() {
		s.viewMu.Lock()
		s.latest = batch
		s.viewMu.Unlock()

		now := s.deps.Clock.Now()
		views := make([]MessageView, 0, len(batch))
		for _, msg := range batch {
			views = append(views, MessageView{
				ChatMessage: msg,
				Own:         msg.Author == s.viewer.DisplayName,
				CanDelete:   s.deps.Feed.CanDelete(msg, s.viewer.StableID, now),
			})
		}
		if !s.emit(att.stop, Event{Type: EventMessages, Room: att.room, Messages: views}) {
			return
		}
	}
}

func (s *ChatSession) forwardTypers(att *roomAttachment) {
	defer att.wg.Done()
	for set := range att.typers.Updates() {
		names := set.Names(s.viewer.DisplayName)

		s.viewMu.Lock()
		s.others = names
		s.viewMu.Unlock()

		if !s.emitTypers(att.stop, names) {
			return
		}
	}
}

func (s *ChatSession) emitTypers(stop <-chan struct{}, names []string) bool {
	s.viewMu.Lock()
	self := len(names) == 0 && s.draft
	s.viewMu.Unlock()
	return s.emit(stop, Event{Type: EventTypers, Typers: names, SelfTyping: self})
}

// emit delivers ev unless the room attachment or the session ends first.
func (s *ChatSession) emit(stop <-chan struct{}, ev Event) bool {
	select {
	case <-stop:
		return false
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-stop:
		return false
	case <-s.done:
		return false
	}
}

func (s *ChatSession) lookup(messageID string) (models.ChatMessage, bool) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	for _, msg := range s.latest {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return models.ChatMessage{}, false
}

func (s *ChatSession) resetView() {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.latest = nil
	s.others = nil
	s.draft = false
}
