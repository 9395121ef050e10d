package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Notifier carries "path changed" signals between writers and subscribers of
// stores that have no native change feed.
type Notifier interface {
	Notify(ctx context.Context, path string) error
	// Subscribe returns a coalescing signal channel and its cancel func.
	Subscribe(path string) (<-chan struct{}, func(), error)
}

// LocalNotifier delivers signals within the current process only.
type LocalNotifier struct {
	fan *fanout
}

// NewLocalNotifier creates a process-local notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{fan: newFanout()}
}

func (n *LocalNotifier) Notify(_ context.Context, path string) error {
	n.fan.notify(path)
	return nil
}

func (n *LocalNotifier) Subscribe(path string) (<-chan struct{}, func(), error) {
	ch, cancel := n.fan.subscribe(path)
	return ch, cancel, nil
}

// NATSNotifier shares change signals between gateway nodes over NATS core subjects.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSNotifier publishes on "{subjectBase}.{path with / replaced by .}".
func NewNATSNotifier(conn *nats.Conn, subjectBase string, logger zerolog.Logger) (*NATSNotifier, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection must not be nil")
	}
	if subjectBase == "" {
		subjectBase = "chat.changes"
	}
	return &NATSNotifier{
		conn:    conn,
		subject: subjectBase,
		logger:  logger.With().Str("component", "nats_notifier").Logger(),
	}, nil
}

// Subject returns the NATS subject used for path.
func (n *NATSNotifier) Subject(path string) string {
	return n.subject + "." + strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}

func (n *NATSNotifier) Notify(_ context.Context, path string) error {
	return n.conn.Publish(n.Subject(path), []byte(path))
}

func (n *NATSNotifier) Subscribe(path string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)
	sub, err := n.conn.Subscribe(n.Subject(path), func(*nats.Msg) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", n.Subject(path), err)
	}

	return ch, func() {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn().Err(err).Str("path", path).Msg("failed to unsubscribe change subject")
		}
	}, nil
}
