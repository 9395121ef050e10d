package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-chat/internal/models"
	"github.com/noah-isme/gema-chat/internal/observability"
	"github.com/noah-isme/gema-chat/internal/repository"
	"github.com/noah-isme/gema-chat/internal/store"
)

// DefaultDeleteWindow is how long after the server timestamp an author may delete a message.
const DefaultDeleteWindow = 5 * time.Minute

// ErrDeleteNotAllowed indicates the viewer may not delete the message.
var ErrDeleteNotAllowed = errors.New("message cannot be deleted by this viewer")

// FeedService exposes the live message list of a room.
type FeedService interface {
	Subscribe(ctx context.Context, roomID string) (store.Source[[]models.ChatMessage], error)
	// Send stores the trimmed text verbatim. It returns an empty id and no
	// error when the text is blank.
	Send(ctx context.Context, roomID string, author models.Identity, text string) (string, error)
	CanDelete(msg models.ChatMessage, viewerID string, now time.Time) bool
	Delete(ctx context.Context, roomID, messageID string) error
	DeleteWindow() time.Duration
}

type feedService struct {
	repo   repository.ChatRepository
	window time.Duration
	logger zerolog.Logger
	tracer trace.Tracer
}

// NewFeedService creates the message feed. A non-positive window uses DefaultDeleteWindow.
func NewFeedService(repo repository.ChatRepository, window time.Duration, logger zerolog.Logger) FeedService {
	if window <= 0 {
		window = DefaultDeleteWindow
	}

	return &feedService{
		repo:   repo,
		window: window,
		logger: logger.With().Str("component", "feed_service").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-chat/internal/service/feed"),
	}
}

func (s *feedService) Subscribe(ctx context.Context, roomID string) (store.Source[[]models.ChatMessage], error) {
	return s.repo.Watch(ctx, roomID)
}

func (s *feedService) Send(ctx context.Context, roomID string, author models.Identity, text string) (string, error) {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return "", nil
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("chat.room_id", roomID),
		attribute.String("chat.author_id", author.StableID),
	))
	defer span.End()

	id, err := s.repo.Append(spanCtx, models.ChatMessage{
		RoomID:   roomID,
		Text:     clean,
		Author:   author.DisplayName,
		AuthorID: author.StableID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		observability.ChatMessagesSent().WithLabelValues("error").Inc()
		return "", fmt.Errorf("send message: %w", err)
	}

	span.SetAttributes(attribute.String("chat.message_id", id))
	observability.ChatMessagesSent().WithLabelValues("ok").Inc()
	return id, nil
}

func (s *feedService) CanDelete(msg models.ChatMessage, viewerID string, now time.Time) bool {
	return CanDelete(msg, viewerID, now, s.window)
}

func (s *feedService) DeleteWindow() time.Duration {
	return s.window
}

func (s *feedService) Delete(ctx context.Context, roomID, messageID string) error {
	spanCtx, span := s.tracer.Start(ctx, "chat.delete", trace.WithAttributes(
		attribute.String("chat.room_id", roomID),
		attribute.String("chat.message_id", messageID),
	))
	defer span.End()

	if err := s.repo.Delete(spanCtx, roomID, messageID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		observability.ChatMessagesDeleted().WithLabelValues("error").Inc()
		return fmt.Errorf("delete message: %w", err)
	}

	observability.ChatMessagesDeleted().WithLabelValues("ok").Inc()
	return nil
}

// CanDelete reports whether viewerID authored msg and the server acknowledged
// it less than window ago. Pending messages are never deletable.
func CanDelete(msg models.ChatMessage, viewerID string, now time.Time, window time.Duration) bool {
	if msg.CreatedAt == nil {
		return false
	}
	if viewerID == "" || msg.AuthorID != viewerID {
		return false
	}
	return now.Sub(*msg.CreatedAt) < window
}
