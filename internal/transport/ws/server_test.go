package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerokeylabs/t4chat/internal/hub"
	"github.com/aerokeylabs/t4chat/pkg/logger"
)

func TestWatchReceivesThreadFrames(t *testing.T) {
	h := hub.NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	e := echo.New()
	e.GET("/ws", NewServer(DefaultConfig(), h, logger.Discard()).HandleWebSocket)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?threadId=t1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Watching("t1") }, time.Second, 5*time.Millisecond)
	h.Publish("t2", []byte("0:other"))
	h.Publish("t1", []byte("0:hello"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "0:hello", string(data))
}

func TestWatchRequiresThreadID(t *testing.T) {
	e := echo.New()
	s := NewServer(DefaultConfig(), hub.NewHub(logger.Discard()), logger.Discard())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.HandleWebSocket(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
