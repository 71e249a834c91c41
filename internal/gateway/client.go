package gateway

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is a connected storefront WebSocket.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Socket      *websocket.Conn
	RemoteIP    string
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewClient creates a Client for a connection that finished the handshake.
func NewClient(conn *websocket.Conn, info ClientInfo, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		Socket:      conn,
		RemoteIP:    remoteIP(conn.RemoteAddr()),
		ConnectedAt: time.Now(),
		log:         log,
	}
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Send writes a frame to the client. Safe for concurrent use.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.Socket.WriteJSON(frame)
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for the given request ID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request ID.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame from the WebSocket.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry tracks connected clients and which of them are waiting on
// a chat turn, so turn progress can be pushed to the right socket.
type ClientRegistry struct {
	mu       sync.RWMutex
	clients  map[string]*Client   // connID → Client
	watchers map[string][]*Client // sessionID → clients awaiting a turn
	log      *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients:  make(map[string]*Client),
		watchers: make(map[string][]*Client),
		log:      log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Get returns a client by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Watch subscribes c to progress events of sessionID until the returned
// func is called.
func (r *ClientRegistry) Watch(sessionID string, c *Client) (unwatch func()) {
	r.mu.Lock()
	r.watchers[sessionID] = append(r.watchers[sessionID], c)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.watchers[sessionID]
		for i, w := range list {
			if w == c {
				list = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(r.watchers, sessionID)
		} else {
			r.watchers[sessionID] = list
		}
	}
}

// Notify sends an event to every client watching sessionID.
func (r *ClientRegistry) Notify(sessionID, event string, payload any, seq int64) {
	r.mu.RLock()
	list := append([]*Client(nil), r.watchers[sessionID]...)
	r.mu.RUnlock()

	for _, c := range list {
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Debug().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("notify failed")
		}
	}
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
	clear(r.watchers)
}
