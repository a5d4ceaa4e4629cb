package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/subsys/internal/domain"
	"github.com/aescanero/subsys/pkg/adapters/events/memory"
)

func newStreamServer(t *testing.T, log *memory.EventLog) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", NewHandler(log, nil).HandleEventStream)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// forwardUntilReceived keeps forwarding event until the subscriber sees it,
// since the server subscribes asynchronously after the upgrade.
func forwardUntilReceived(t *testing.T, log *memory.EventLog, conn *websocket.Conn, event domain.Event) domain.Event {
	t.Helper()
	received := make(chan domain.Event, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var e domain.Event
		if json.Unmarshal(data, &e) == nil {
			received <- e
		}
	}()

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case e := <-received:
			return e
		case <-tick.C:
			_ = log.Forward(context.Background(), event)
		case <-deadline:
			t.Fatal("event not received")
		}
	}
}

func TestHandleEventStream(t *testing.T) {
	log := memory.NewEventLog(16)
	srv := newStreamServer(t, log)
	conn := dial(t, srv, "")

	got := forwardUntilReceived(t, log, conn, domain.Event{ID: "e1", Type: domain.EventPhaseCompleted})
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, domain.EventPhaseCompleted, got.Type)
}

func TestHandleEventStream_Filter(t *testing.T) {
	log := memory.NewEventLog(16)
	srv := newStreamServer(t, log)
	conn := dial(t, srv, "?type=health.changed")

	// Wait for the subscription through a matching event, then check that
	// a non-matching one is skipped.
	forwardUntilReceived(t, log, conn, domain.Event{ID: "h1", Type: domain.EventHealthChanged})

	require.NoError(t, log.Forward(context.Background(), domain.Event{ID: "p1", Type: domain.EventPhaseStarted}))
	require.NoError(t, log.Forward(context.Background(), domain.Event{ID: "h2", Type: domain.EventHealthChanged}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var e domain.Event
		require.NoError(t, json.Unmarshal(data, &e))
		require.NotEqual(t, "p1", e.ID)
		if e.ID == "h2" {
			break
		}
	}
}

func TestHandleEventStream_SourceClosed(t *testing.T) {
	log := memory.NewEventLog(16)
	srv := newStreamServer(t, log)
	conn := dial(t, srv, "")

	forwardUntilReceived(t, log, conn, domain.Event{ID: "e1", Type: domain.EventThemeChanged})
	require.NoError(t, log.Close())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
			return
		}
	}
}

func TestParseFilter(t *testing.T) {
	assert.Nil(t, parseFilter(""))
	f := parseFilter("phase.started, health.changed,,")
	assert.Len(t, f, 2)
	assert.True(t, f[domain.EventPhaseStarted])
	assert.True(t, f[domain.EventHealthChanged])
}
