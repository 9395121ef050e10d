// Package client dials the chat gateway and exchanges websocket events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat/internal/dto"
	"github.com/noah-isme/gema-chat/internal/utils"
)

const (
	writeTimeout  = 10 * time.Second
	eventsBuffer  = 32
	restTimeout   = 10 * time.Second
	apiPrefix     = "/api/v1"
	defaultScheme = "http"
)

// ErrClosed is returned when sending on a closed client.
var ErrClosed = errors.New("client closed")

// Options configures a gateway connection.
type Options struct {
	GatewayURL string
	Room       string
	// Token is sent as ?token=. Without a token the gateway treats the viewer as a guest named GuestName.
	Token     string
	GuestName string
	Dialer    *websocket.Dialer
	Logger    zerolog.Logger
}

// Client is one websocket connection to a room.
type Client struct {
	conn   *websocket.Conn
	events chan dto.ServerEvent
	logger zerolog.Logger

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}

	errMu sync.Mutex
	err   error
}

// WebsocketURL builds the websocket endpoint for a room.
func WebsocketURL(gateway, room, token, guestName string) (string, error) {
	base, err := parseGateway(gateway)
	if err != nil {
		return "", err
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}
	base.Path = strings.TrimRight(base.Path, "/") + apiPrefix + "/rooms/" + url.PathEscape(room) + "/ws"

	query := url.Values{}
	if token != "" {
		query.Set("token", token)
	} else if guestName != "" {
		query.Set("name", guestName)
	}
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func parseGateway(gateway string) (*url.URL, error) {
	gateway = strings.TrimSpace(gateway)
	if gateway == "" {
		return nil, fmt.Errorf("gateway url is required")
	}
	if !strings.Contains(gateway, "://") {
		gateway = defaultScheme + "://" + gateway
	}
	u, err := url.Parse(gateway)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	return u, nil
}

// Dial connects to the room and starts decoding server events.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	endpoint, err := WebsocketURL(opts.GatewayURL, opts.Room, opts.Token, opts.GuestName)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", opts.Room, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", opts.Room, err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan dto.ServerEvent, eventsBuffer),
		logger: opts.Logger.With().Str("component", "chat_client").Logger(),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields server frames until the connection ends, then closes.
func (c *Client) Events() <-chan dto.ServerEvent {
	return c.events
}

// Err reports why the read loop stopped, if it stopped abnormally.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closing() {
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
			}
			return
		}

		var ev dto.ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("discarding malformed server frame")
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Client) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send writes one client event.
func (c *Client) Send(ev dto.ClientEvent) error {
	if c.closing() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("send %s: %w", ev.Type, err)
	}
	return nil
}

// TextChanged reports the current composer contents.
func (c *Client) TextChanged(text string) error {
	return c.Send(dto.ClientEvent{Type: dto.ClientTextChanged, Text: text})
}

// Submit posts a message.
func (c *Client) Submit(text string) error {
	return c.Send(dto.ClientEvent{Type: dto.ClientSubmit, Text: text})
}

// Delete asks the gateway to remove one of the viewer's messages.
func (c *Client) Delete(messageID string, confirmed bool) error {
	return c.Send(dto.ClientEvent{Type: dto.ClientDelete, MessageID: messageID, Confirmed: confirmed})
}

// Join moves the connection to another room.
func (c *Client) Join(room string) error {
	return c.Send(dto.ClientEvent{Type: dto.ClientJoin, Room: room})
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// ListRooms fetches the room catalog over REST.
func ListRooms(ctx context.Context, httpClient *http.Client, gateway, token string) ([]dto.RoomResponse, error) {
	base, err := parseGateway(gateway)
	if err != nil {
		return nil, err
	}
	base.Path = strings.TrimRight(base.Path, "/") + apiPrefix + "/rooms"

	if httpClient == nil {
		httpClient = &http.Client{Timeout: restTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		utils.APIResponse
		Data []dto.RoomResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !payload.Success {
		return nil, fmt.Errorf("list rooms: %s: %s", resp.Status, payload.Message)
	}
	return payload.Data, nil
}
