package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/middleware"
	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/observability"
	"github.com/noah-isme/gema-chat/internal/service"
	"github.com/noah-isme/gema-chat/pkg/avatar"
)

const (
	chatPingInterval  = 30 * time.Second
	chatWriteDeadline = 10 * time.Second
	chatReplyBuffer   = 8
	closeReasonRoom   = 4400
)

// messageHTML renders message text for clients that display markup.
var messageHTML = bluemonday.UGCPolicy()

// SessionFactory opens a chat session for a viewer.
type SessionFactory func(viewer models.Identity) *service.ChatSession

// ChatHandler wires the chat websocket.
type ChatHandler struct {
	sessions  SessionFactory
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(sessions SessionFactory, validate *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		sessions:  sessions,
		validator: validate,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds the websocket route under the rooms group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Get("/:room/ws", h.upgrade, websocket.New(h.handleConnection))
}

func (h *ChatHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals("request_ctx", requestContext(c))
	return c.Next()
}

// chatConn serialises writes to one websocket.
type chatConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func (c *chatConn) write(ev dto.ServerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(chatWriteDeadline))
	return c.conn.WriteJSON(ev)
}

func (c *chatConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(chatWriteDeadline))
}

func (c *chatConn) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	viewer, ok := conn.Locals(middleware.IdentityLocal).(models.Identity)
	if !ok {
		viewer = models.Identity{DisplayName: "Guest"}
	}
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx := context.WithoutCancel(baseCtx)

	logger := h.logger.With().
		Str("correlation_id", middleware.CorrelationIDFromContext(baseCtx)).
		Str("user_id", viewer.StableID).
		Str("user", viewer.DisplayName).
		Logger()

	cc := &chatConn{conn: conn, closed: make(chan struct{})}
	defer cc.close()

	sess := h.sessions(viewer)
	defer sess.Close(ctx)

	room, err := sess.Join(ctx, conn.Params("room"))
	if err != nil {
		logger.Warn().Err(err).Str("room", conn.Params("room")).Msg("chat join rejected")
		_ = cc.write(dto.ServerEvent{Type: "error", Notice: joinFailureNotice(err)})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeReasonRoom, "cannot join room"))
		return
	}

	observability.ChatConnections().Inc()
	defer observability.ChatConnections().Dec()
	logger.Info().Str("room_id", room.ID).Msg("chat websocket connected")

	replies := make(chan dto.ServerEvent, chatReplyBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writer(cc, sess, replies, logger)
	}()

	h.reader(ctx, cc, sess, replies, logger)
	cc.close()
	sess.Close(ctx)
	wg.Wait()

	logger.Info().Msg("chat websocket disconnected")
}

func (h *ChatHandler) reader(ctx context.Context, cc *chatConn, sess *service.ChatSession, replies chan<- dto.ServerEvent, logger zerolog.Logger) {
	reply := func(ev dto.ServerEvent) {
		select {
		case replies <- ev:
		case <-cc.closed:
		default:
			logger.Warn().Msg("reply queue full, dropping frame")
		}
	}

	for {
		_, data, err := cc.conn.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		var event dto.ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			reply(dto.ServerEvent{Type: "error", Notice: "malformed event"})
			continue
		}
		if err := h.validator.Struct(event); err != nil {
			reply(dto.ServerEvent{Type: "error", Notice: "invalid event"})
			continue
		}

		switch event.Type {
		case dto.ClientTextChanged:
			sess.TextChanged(ctx, event.Text)
		case dto.ClientSubmit:
			if _, err := sess.Submit(ctx, event.Text); err != nil {
				logger.Debug().Err(err).Msg("submit rejected")
			}
		case dto.ClientDelete:
			if err := sess.RequestDelete(ctx, event.MessageID, event.Confirmed); err != nil {
				logger.Debug().Err(err).Str("message_id", event.MessageID).Msg("delete rejected")
			}
		case dto.ClientJoin:
			if _, err := sess.Join(ctx, event.Room); err != nil {
				logger.Warn().Err(err).Str("room", event.Room).Msg("room change rejected")
				reply(dto.ServerEvent{Type: "error", Notice: joinFailureNotice(err)})
			}
		}
	}
}

func (h *ChatHandler) writer(cc *chatConn, sess *service.ChatSession, replies <-chan dto.ServerEvent, logger zerolog.Logger) {
	defer cc.close()

	ticker := time.NewTicker(chatPingInterval)
	defer ticker.Stop()

	for {
		var frame dto.ServerEvent
		select {
		case ev := <-sess.Events():
			frame = newServerEvent(ev)
		case frame = <-replies:
		case <-ticker.C:
			if err := cc.ping(); err != nil {
				logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
			continue
		case <-sess.Done():
			return
		case <-cc.closed:
			return
		}

		if err := cc.write(frame); err != nil {
			logger.Debug().Err(err).Msg("chat write loop terminated")
			return
		}
	}
}

func joinFailureNotice(err error) string {
	if errors.Is(err, service.ErrInvalidRoomName) {
		return "Room names may only contain letters, digits, dashes and underscores."
	}
	return "Failed to join room. Please try again."
}

func newServerEvent(ev service.Event) dto.ServerEvent {
	frame := dto.ServerEvent{Type: string(ev.Type)}
	switch ev.Type {
	case service.EventJoined:
		room := dto.NewRoomResponse(ev.Room)
		frame.Room = &room
	case service.EventMessages:
		frame.Messages = make([]dto.MessageResponse, 0, len(ev.Messages))
		for _, msg := range ev.Messages {
			frame.Messages = append(frame.Messages, newMessageResponse(msg))
		}
	case service.EventTypers:
		frame.Typers = ev.Typers
		frame.TypingLabel = models.TypingLabel(ev.Typers)
		frame.SelfTyping = ev.SelfTyping
	case service.EventNotice:
		frame.Notice = ev.Notice
	}
	return frame
}

func newMessageResponse(msg service.MessageView) dto.MessageResponse {
	return dto.MessageResponse{
		ID:          msg.ID,
		Room:        msg.RoomID,
		Text:        msg.Text,
		HTML:        messageHTML.Sanitize(msg.Text),
		User:        msg.Author,
		UID:         msg.AuthorID,
		CreatedAt:   msg.CreatedAt,
		Pending:     msg.Pending(),
		Own:         msg.Own,
		CanDelete:   msg.CanDelete,
		AvatarColor: avatar.Color(msg.Author),
		Initial:     avatar.Initial(msg.Author),
	}
}
