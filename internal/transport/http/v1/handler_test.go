package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerokeylabs/t4chat/internal/adapter/llm"
	"github.com/aerokeylabs/t4chat/internal/config"
	"github.com/aerokeylabs/t4chat/internal/domain"
	"github.com/aerokeylabs/t4chat/internal/metrics"
	"github.com/aerokeylabs/t4chat/internal/policy"
	"github.com/aerokeylabs/t4chat/internal/registry"
	"github.com/aerokeylabs/t4chat/internal/service"
	"github.com/aerokeylabs/t4chat/internal/store"
	"github.com/aerokeylabs/t4chat/internal/testutil"
	"github.com/aerokeylabs/t4chat/pkg/logger"
)

func newTestHandler(t *testing.T) (*Handler, *store.SQLiteStore) {
	t.Helper()
	db := testutil.NewTestSQLiteStore(t)
	mock := llm.NewMockClient()
	mock.Interval = 0

	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	exporter := metrics.NewExporter(metrics.DefaultConfig())
	svc := service.New(service.Deps{
		Store:     db,
		Source:    mock,
		Completer: mock,
		Registry:  registry.New(),
		Policy:    policyEngine,
		Metrics:   exporter,
		Config:    &config.Config{RelayTimeout: 5 * time.Second},
		Log:       logger.Discard(),
	})
	return NewHandler(svc, exporter.Handler(), logger.Discard()), db
}

func postJSON(e *echo.Echo, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

// sseFrames splits an event stream body into (event, data) pairs.
func sseFrames(body string) [][2]string {
	var frames [][2]string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var event, data string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "data:":
				data = ""
			}
		}
		frames = append(frames, [2]string{event, data})
	}
	return frames
}

func TestCreateMessageStreams(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)
	replyID := testutil.SeedConversation(t, db, "t1", "hello there")

	body := `{"threadId":"t1","responseMessageId":"` + replyID + `","model":"mock/echo","messageParts":[{"type":"text","text":"hello"}]}`
	c, rec := postJSON(e, "/message", body)

	if err := h.CreateMessage(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := sseFrames(rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 3)

	last := frames[len(frames)-1]
	assert.Equal(t, [2]string{"end", ""}, last)

	var text strings.Builder
	var kinds []domain.EventKind
	for _, f := range frames[:len(frames)-1] {
		assert.Equal(t, "message", f[0])
		ev, err := domain.DecodeChatEvent(f[1])
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind)
		if ev.Kind == domain.EventText {
			text.WriteString(ev.Text)
		}
	}
	assert.Equal(t, domain.EventEnd, kinds[len(kinds)-1])
	assert.Contains(t, text.String(), "hello there")

	msg, err := db.GetMessageByID(context.Background(), replyID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusComplete, msg.Status)
	assert.Equal(t, text.String(), msg.Text())
}

func TestCreateMessageRejections(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)
	replyID := testutil.SeedConversation(t, db, "t1", "hi")
	done := testutil.SeedConversation(t, db, "t2", "hi")
	if _, err := db.Cancel(context.Background(), done); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{"threadId":`, http.StatusBadRequest},
		{"missing model", `{"threadId":"t1","responseMessageId":"` + replyID + `"}`, http.StatusBadRequest},
		{"unknown thread", `{"threadId":"nope","responseMessageId":"` + replyID + `","model":"m"}`, http.StatusNotFound},
		{"not pending", `{"threadId":"t2","responseMessageId":"` + done + `","model":"m"}`, http.StatusConflict},
		{"policy", `{"threadId":"t1","responseMessageId":"` + replyID + `","model":"x:paid"}`, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := postJSON(e, "/message", tt.body)
			if err := h.CreateMessage(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			assert.Equal(t, tt.code, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}

	// rejected requests leave the message untouched
	msg, err := db.GetMessageByID(context.Background(), replyID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusPending, msg.Status)
}

func TestCancelMessage(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	c, rec := postJSON(e, "/message/cancel", `{"threadId":"t1"}`)
	if err := h.CancelMessage(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false}`, rec.Body.String())

	c, rec = postJSON(e, "/message/cancel", `{}`)
	if err := h.CancelMessage(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListModels(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	rec := httptest.NewRecorder()
	if err := h.ListModels(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Object string      `json:"object"`
		Data   []llm.Model `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	assert.NotEmpty(t, resp.Data)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	h.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "t4chat_relay_active")
}
