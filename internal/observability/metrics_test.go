package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestMetricsEndpointExposesChatCollectors(t *testing.T) {
	ChatMessagesSent().WithLabelValues("ok").Inc()
	TypingWrites().WithLabelValues("typing", "ok").Inc()
	ChatConnections().Set(0)

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	require.True(t, strings.Contains(text, "chat_messages_sent_total"))
	require.True(t, strings.Contains(text, "chat_typing_writes_total"))
	require.True(t, strings.Contains(text, "chat_ws_connections"))
}
