package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FeedClient represents one websocket connection on the live feed
type FeedClient struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
	types  map[events.EventType]bool
}

// FeedMessage is the frame pushed to feed clients
type FeedMessage struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   interface{}      `json:"payload"`
}

// FeedService manages websocket connections for the live event feed.
// Events from the bus fan out to the owning user's connections; clients
// may narrow the feed to specific event types.
type FeedService struct {
	logger     *utils.Logger
	clients    map[*FeedClient]bool
	byUser     map[string]map[*FeedClient]bool
	register   chan *FeedClient
	unregister chan *FeedClient
	mutex      sync.RWMutex
}

// NewFeedService creates the feed hub and starts its run loop
func NewFeedService(bus *events.Bus, logger *utils.Logger) *FeedService {
	service := &FeedService{
		logger:     logger.Named("feed_service"),
		clients:    make(map[*FeedClient]bool),
		byUser:     make(map[string]map[*FeedClient]bool),
		register:   make(chan *FeedClient),
		unregister: make(chan *FeedClient),
	}

	bus.Subscribe(service.onEvent)

	go service.run()
	return service
}

// RegisterClient adds a new websocket client for a user
func (s *FeedService) RegisterClient(conn *websocket.Conn, userID string) *FeedClient {
	client := &FeedClient{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 256),
		types:  make(map[events.EventType]bool),
	}

	s.register <- client

	go s.readPump(client)
	go s.writePump(client)

	return client
}

// PushToUser delivers a payload to every connection the user has open.
// Returns false when the user has no connected clients, which the push
// notification channel treats as a failed delivery.
func (s *FeedService) PushToUser(userID string, payload interface{}) bool {
	s.mutex.RLock()
	conns := s.byUser[userID]
	delivered := false
	for client := range conns {
		s.sendToClient(client, &FeedMessage{
			Type:      events.EventNotification,
			Timestamp: time.Now().UTC(),
			Payload:   payload,
		})
		delivered = true
	}
	s.mutex.RUnlock()

	return delivered
}

// ConnectedUsers returns the number of users with at least one connection
func (s *FeedService) ConnectedUsers() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.byUser)
}

// onEvent forwards a bus event to the owning user's connections. Clients
// that narrowed their feed to specific types only receive those.
func (s *FeedService) onEvent(event events.Event) {
	if event.UserID == "" {
		return
	}

	message := &FeedMessage{
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	}

	s.mutex.RLock()
	for client := range s.byUser[event.UserID] {
		if len(client.types) > 0 && !client.types[event.Type] {
			continue
		}
		s.sendToClient(client, message)
	}
	s.mutex.RUnlock()
}

// run processes register/unregister requests in the main loop
func (s *FeedService) run() {
	for {
		select {
		case client := <-s.register:
			s.mutex.Lock()
			s.clients[client] = true
			if s.byUser[client.userID] == nil {
				s.byUser[client.userID] = make(map[*FeedClient]bool)
			}
			s.byUser[client.userID][client] = true
			s.mutex.Unlock()
			s.logger.Debug("Feed client registered",
				zap.String("user_id", client.userID))

		case client := <-s.unregister:
			s.mutex.Lock()
			if _, ok := s.clients[client]; ok {
				s.dropClient(client)
			}
			s.mutex.Unlock()
			s.logger.Debug("Feed client unregistered",
				zap.String("user_id", client.userID))
		}
	}
}

// dropClient removes a client from both indexes. Caller holds the lock.
func (s *FeedService) dropClient(client *FeedClient) {
	delete(s.clients, client)
	if conns := s.byUser[client.userID]; conns != nil {
		delete(conns, client)
		if len(conns) == 0 {
			delete(s.byUser, client.userID)
		}
	}
	close(client.send)
}

// sendToClient queues a message on the client's send buffer. A client that
// cannot keep up is disconnected rather than allowed to block the hub.
func (s *FeedService) sendToClient(client *FeedClient, message *FeedMessage) {
	jsonMessage, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("Failed to marshal feed message",
			zap.Error(err),
			zap.String("type", string(message.Type)))
		return
	}

	select {
	case client.send <- jsonMessage:
	default:
		go func() { s.unregister <- client }()
		s.logger.Warn("Feed client buffer full, dropping connection",
			zap.String("user_id", client.userID))
	}
}

// readPump reads control messages from the client
func (s *FeedService) readPump(client *FeedClient) {
	defer func() {
		s.unregister <- client
		client.conn.Close()
	}()

	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				s.logger.Warn("Unexpected websocket close",
					zap.Error(err),
					zap.String("user_id", client.userID))
			}
			break
		}

		// Clients may narrow the feed to specific event types.
		var clientMsg struct {
			Action string           `json:"action"`
			Type   events.EventType `json:"type"`
		}

		if err := json.Unmarshal(message, &clientMsg); err != nil {
			s.logger.Warn("Invalid feed client message",
				zap.Error(err),
				zap.ByteString("message", message))
			continue
		}

		switch clientMsg.Action {
		case "subscribe":
			if clientMsg.Type != "" {
				s.mutex.Lock()
				client.types[clientMsg.Type] = true
				s.mutex.Unlock()
			}
		case "unsubscribe":
			if clientMsg.Type != "" {
				s.mutex.Lock()
				delete(client.types, clientMsg.Type)
				s.mutex.Unlock()
			}
		}
	}
}

// writePump writes queued messages and keepalive pings to the client
func (s *FeedService) writePump(client *FeedClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := client.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into the same frame
			n := len(client.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-client.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
