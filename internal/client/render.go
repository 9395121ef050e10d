package client

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/noah-isme/gema-chat/internal/dto"
)

const selfTypingLabel = "You are typing..."

// Renderer prints server events as terminal lines.
type Renderer struct {
	out   io.Writer
	color bool

	mu       sync.Mutex
	messages []dto.MessageResponse
	typing   string
	self     bool
}

// NewRenderer writes to out. color enables ANSI avatar colours.
func NewRenderer(out io.Writer, color bool) *Renderer {
	return &Renderer{out: out, color: color}
}

// Render prints the part of ev that changed what the viewer sees.
func (r *Renderer) Render(ev dto.ServerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case "joined":
		r.messages = nil
		r.typing = ""
		r.self = false
		if ev.Room != nil {
			fmt.Fprintf(r.out, "== #%s (%d online) %s ==\n", ev.Room.ID, ev.Room.Participants, ev.Room.Description)
		}
	case "messages":
		r.renderMessages(ev.Messages)
	case "typers":
		if ev.TypingLabel != r.typing && ev.TypingLabel != "" {
			fmt.Fprintf(r.out, "   %s\n", ev.TypingLabel)
		}
		r.typing = ev.TypingLabel
		if ev.SelfTyping && !r.self {
			fmt.Fprintf(r.out, "   %s\n", selfTypingLabel)
		}
		r.self = ev.SelfTyping
	case "notice", "error":
		fmt.Fprintf(r.out, "!  %s\n", ev.Notice)
	}
}

func (r *Renderer) renderMessages(next []dto.MessageResponse) {
	known := make(map[string]dto.MessageResponse, len(r.messages))
	for _, msg := range r.messages {
		known[msg.ID] = msg
	}
	present := make(map[string]bool, len(next))
	for _, msg := range next {
		present[msg.ID] = true
	}

	for _, msg := range r.messages {
		if !present[msg.ID] {
			fmt.Fprintf(r.out, "   (a message from %s was deleted)\n", msg.User)
		}
	}
	for i, msg := range next {
		// a pending message is printed again once the server stamps it
		if prev, seen := known[msg.ID]; seen && !(prev.Pending && !msg.Pending) {
			continue
		}
		fmt.Fprintln(r.out, r.formatMessage(i+1, msg))
	}
	r.messages = append(r.messages[:0], next...)
}

func (r *Renderer) formatMessage(n int, msg dto.MessageResponse) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(n))
	b.WriteString(". ")
	b.WriteString(r.badge(msg))
	b.WriteByte(' ')
	b.WriteString(msg.User)
	if msg.Pending || msg.CreatedAt == nil {
		b.WriteString(" (sending)")
	} else {
		b.WriteString(" ")
		b.WriteString(msg.CreatedAt.Local().Format("15:04"))
	}
	b.WriteString(": ")
	b.WriteString(msg.Text)
	if msg.CanDelete {
		b.WriteString("  [/delete ")
		b.WriteString(strconv.Itoa(n))
		b.WriteString("]")
	}
	return b.String()
}

func (r *Renderer) badge(msg dto.MessageResponse) string {
	badge := "[" + msg.Initial + "]"
	if !r.color {
		return badge
	}
	red, green, blue, ok := hexRGB(msg.AvatarColor)
	if !ok {
		return badge
	}
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm%s\x1b[0m", red, green, blue, badge)
}

func hexRGB(hex string) (int64, int64, int64, bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	value, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return value >> 16 & 0xff, value >> 8 & 0xff, value & 0xff, true
}

// MessageAt returns the n-th message (1-based) of the last rendered snapshot.
func (r *Renderer) MessageAt(n int) (dto.MessageResponse, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 1 || n > len(r.messages) {
		return dto.MessageResponse{}, false
	}
	return r.messages[n-1], true
}
