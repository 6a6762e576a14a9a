package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

// Event is pushed to every connected client.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Command is sent by a client to drive the transport.
type Command struct {
	Type string  `json:"type"` // play | pause | stop | seek
	Time float64 `json:"time,omitempty"`
}

type client struct {
	conn    *websocket.Conn
	send    chan Event
	once    sync.Once
	dropped int // guarded by Hub.mu
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans events out to websocket clients.
type Hub struct {
	mu        sync.Mutex
	clients   map[*client]struct{}
	upgrader  websocket.Upgrader
	log       zerolog.Logger
	onCommand func(Command)
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the desktop webview and the local frontend dev server use different origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// OnCommand registers the handler for client commands.
func (h *Hub) OnCommand(fn func(Command)) {
	h.mu.Lock()
	h.onCommand = fn
	h.mu.Unlock()
}

// ServeWS upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "websocket upgrade")
	}
	c := &client{conn: conn, send: make(chan Event, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("client connected")

	go h.writeLoop(c)
	h.readLoop(c)
	return nil
}

func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			h.log.Warn().Err(err).Msg("ignoring malformed command")
			continue
		}
		h.mu.Lock()
		fn := h.onCommand
		h.mu.Unlock()
		if fn != nil {
			fn(cmd)
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.log.Debug().Err(err).Msg("client write failed")
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	dropped := c.dropped
	h.mu.Unlock()
	if ok {
		c.close()
	}
	if dropped > 0 {
		h.log.Info().Int("dropped", dropped).Msg("slow client removed")
	}
}

// Broadcast queues an event for every client. Slow clients drop events
// instead of blocking the caller; the first drop of a client is logged.
func (h *Hub) Broadcast(eventType string, payload any) {
	ev := Event{Type: eventType, Payload: payload}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			c.dropped++
			if c.dropped == 1 {
				h.log.Warn().Str("event", eventType).Msg("client too slow, dropping events")
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}
