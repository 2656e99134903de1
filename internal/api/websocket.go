package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sensornode/internal/infrastructure/config"
	"github.com/nerrad567/sensornode/internal/infrastructure/logging"
	"github.com/nerrad567/sensornode/internal/node"
)

// Stream message types.
const (
	StreamTypeEvent = "event"
	StreamTypePing  = "ping"
	StreamTypePong  = "pong"
	StreamTypeError = "error"

	// EventState carries a full StateResponse.
	EventState = "state"

	// streamSendBuffer is the per-client outbound message buffer size.
	streamSendBuffer = 64

	// Seconds, used when the config leaves them unset.
	defaultPingInterval = 30
	defaultPongTimeout  = 10
)

// StreamMessage is one frame on /api/v1/stream.
type StreamMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Event     string `json:"event,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// StreamHub fans state snapshots out to connected websocket clients.
type StreamHub struct {
	cfg     config.StreamConfig
	logger  *logging.Logger
	clients map[*streamClient]struct{}
	mu      sync.RWMutex
}

type streamClient struct {
	hub  *StreamHub
	conn *websocket.Conn
	send chan []byte
}

// The diagnostics API listens on a local interface; any origin may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewStreamHub creates an empty hub.
func NewStreamHub(cfg config.StreamConfig, logger *logging.Logger) *StreamHub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &StreamHub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

func (h *StreamHub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "clients", h.ClientCount())
}

// unregister removes c. Only the caller that removed it closes send.
func (h *StreamHub) unregister(c *streamClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("stream client disconnected", "clients", h.ClientCount())
}

// Broadcast sends one event to every client. Slow clients miss frames.
func (h *StreamHub) Broadcast(event string, payload any) {
	data, err := encodeStream(StreamMessage{Type: StreamTypeEvent, Event: event, Payload: payload})
	if err != nil {
		h.logger.Error("encoding stream event", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.trySend(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects every client so the write pumps exit.
func (h *StreamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close() //nolint:errcheck // Shutdown
		delete(h.clients, c)
	}
}

func encodeStream(msg StreamMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// PublishStatus pushes a state snapshot carrying st to stream clients.
// The node calls it whenever its LEDs or twin change.
func (s *Server) PublishStatus(st node.Status) {
	if s.stream.ClientCount() == 0 {
		return
	}
	resp := s.currentState()
	resp.Node = &st
	if st.LEDs != nil {
		resp.LEDs = st.LEDs
	}
	s.stream.Broadcast(EventState, resp)
}

// handleStream upgrades to a websocket and sends the current state, then
// every later snapshot.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}
	c := &streamClient{
		hub:  s.stream,
		conn: conn,
		send: make(chan []byte, streamSendBuffer),
	}
	s.stream.register(c)

	if data, err := encodeStream(StreamMessage{Type: StreamTypeEvent, Event: EventState, Payload: s.currentState()}); err == nil {
		c.trySend(data)
	}

	go c.writePump()
	go c.readPump()
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close() //nolint:errcheck // Connection is finished
	}()

	cfg := c.hub.cfg
	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // Best-effort deadline
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // Best-effort deadline
		c.handleMessage(data)
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(time.Duration(c.hub.cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Connection is finished
	}()
	writeWait := time.Duration(c.hub.cfg.PongTimeout) * time.Second

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Best-effort close
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write error caught below
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Ping error caught below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers application pings. The stream is otherwise
// one-way.
func (c *streamClient) handleMessage(data []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(StreamMessage{Type: StreamTypeError, Payload: map[string]string{"message": "invalid JSON message"}})
		return
	}
	switch msg.Type {
	case StreamTypePing:
		c.reply(StreamMessage{Type: StreamTypePong, ID: msg.ID})
	default:
		c.reply(StreamMessage{Type: StreamTypeError, ID: msg.ID,
			Payload: map[string]string{"message": "unknown message type: " + msg.Type}})
	}
}

func (c *streamClient) reply(msg StreamMessage) {
	data, err := encodeStream(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend drops the frame when the buffer is full or the client is gone.
func (c *streamClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Send on a channel closed by unregister
	}()
	select {
	case c.send <- data:
	default:
	}
}
