package services_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pulseguard/backend/internal/api/controllers"
	"github.com/pulseguard/backend/internal/api/middleware"
	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/services"
	testutils "github.com/pulseguard/backend/tests/utils"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feedFixture struct {
	ts     *testutils.TestSetup
	bus    *events.Bus
	feed   *services.FeedService
	server *httptest.Server
}

func newFeedFixture(t *testing.T) *feedFixture {
	ts := testutils.NewTestSetup(t)
	t.Cleanup(ts.Cleanup)

	bus := events.NewBus(ts.Logger)
	feed := services.NewFeedService(bus, ts.Logger)

	am := middleware.NewAuthMiddleware(&ts.Config.JWT, &ts.Config.Ingest)
	group := ts.Router.Group("/api/v1/ws")
	group.Use(am.RequireAuth())
	controllers.NewFeedController(feed, ts.Logger).RegisterRoutes(group)

	server := httptest.NewServer(ts.Router)
	t.Cleanup(server.Close)

	return &feedFixture{ts: ts, bus: bus, feed: feed, server: server}
}

// connect dials the feed as the given user, authenticating with the query
// token the way browser websocket clients must.
func (f *feedFixture) connect(t *testing.T, userID string) *websocket.Conn {
	token := f.ts.CreateTestAuthToken(userID, userID+"@example.com")
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws/feed?token=" + token

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Wait for the hub to index the connection before publishing.
	require.Eventually(t, func() bool {
		return f.feed.ConnectedUsers() > 0
	}, 2*time.Second, 10*time.Millisecond)

	return conn
}

// readFrames reads one websocket message and splits the batched frames
func readFrames(t *testing.T, conn *websocket.Conn) []services.FeedMessage {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var frames []services.FeedMessage
	for _, raw := range strings.Split(string(message), "\n") {
		if raw == "" {
			continue
		}
		var frame services.FeedMessage
		require.NoError(t, json.Unmarshal([]byte(raw), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestFeedService_DeliversOwnEvents(t *testing.T) {
	f := newFeedFixture(t)
	conn := f.connect(t, "user-1")

	f.bus.Publish(events.Event{
		Type:    events.EventAlertCreated,
		UserID:  "user-1",
		Payload: map[string]string{"id": "a-1"},
	})

	frames := readFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, events.EventAlertCreated, frames[0].Type)
}

func TestFeedService_IsolatesUsers(t *testing.T) {
	f := newFeedFixture(t)
	conn := f.connect(t, "user-1")

	// Another user's event must never reach this connection.
	f.bus.Publish(events.Event{
		Type:    events.EventAlertCreated,
		UserID:  "user-2",
		Payload: map[string]string{"id": "a-2"},
	})
	f.bus.Publish(events.Event{
		Type:    events.EventAlertResolved,
		UserID:  "user-1",
		Payload: map[string]string{"id": "a-1"},
	})

	frames := readFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, events.EventAlertResolved, frames[0].Type)
}

func TestFeedService_TypeFilter(t *testing.T) {
	f := newFeedFixture(t)
	conn := f.connect(t, "user-1")

	// Narrow the feed to milestone events only.
	require.NoError(t, conn.WriteJSON(map[string]string{
		"action": "subscribe",
		"type":   string(events.EventMilestoneAchieved),
	}))

	// The subscribe message is handled asynchronously by the read pump.
	time.Sleep(100 * time.Millisecond)

	f.bus.Publish(events.Event{
		Type:    events.EventAlertCreated,
		UserID:  "user-1",
		Payload: map[string]string{"id": "a-1"},
	})
	f.bus.Publish(events.Event{
		Type:    events.EventMilestoneAchieved,
		UserID:  "user-1",
		Payload: map[string]interface{}{"days": 7},
	})

	frames := readFrames(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, events.EventMilestoneAchieved, frames[0].Type)
}

func TestFeedService_PushToUser(t *testing.T) {
	f := newFeedFixture(t)

	t.Run("Should report no delivery without connections", func(t *testing.T) {
		assert.False(t, f.feed.PushToUser("user-1", map[string]string{"note": "hi"}))
	})

	t.Run("Should deliver a notification frame to the connected user", func(t *testing.T) {
		conn := f.connect(t, "user-1")

		assert.True(t, f.feed.PushToUser("user-1", map[string]string{"note": "hi"}))

		frames := readFrames(t, conn)
		require.Len(t, frames, 1)
		assert.Equal(t, events.EventNotification, frames[0].Type)
	})
}

func TestFeedService_RejectsUnauthenticated(t *testing.T) {
	f := newFeedFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/ws/feed"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
