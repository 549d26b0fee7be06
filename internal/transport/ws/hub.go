package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/lilavathra-tackits/gps-tracker/internal/auth"
)

type message struct {
	deviceID string
	data     []byte
}

// Hub maintains the set of active clients and sends each message to the
// clients whose principal owns the message's device.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run owns the client set until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("websocket client registered", "remote", c.conn.RemoteAddr().String())

		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.principal.Owns(msg.deviceID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.log.Warn("websocket client too slow, dropping", "remote", c.conn.RemoteAddr().String())
					delete(h.clients, c)
					close(c.send)
				}
			}

		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

// Broadcast wraps payload in a typed envelope and queues it for the clients
// allowed to see deviceID.
func (h *Hub) Broadcast(kind, deviceID string, payload json.RawMessage) {
	msg, err := json.Marshal(struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{kind, payload})
	if err != nil {
		h.log.Error("websocket envelope encode failed", "error", err)
		return
	}
	select {
	case h.broadcast <- message{deviceID: deviceID, data: msg}:
	default:
		h.log.Warn("websocket broadcast buffer full, dropping message", "type", kind)
	}
}

// PublishAlert lets the hub stand in for Redis pub/sub in single-process mode.
func (h *Hub) PublishAlert(ctx context.Context, deviceID string, payload []byte) error {
	h.Broadcast("alert", deviceID, payload)
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the connection and starts the client pumps. It must sit
// behind middleware that stores an auth.Principal in the request context.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, principal: p, send: make(chan []byte, 256)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Relay forwards Redis alert and telemetry events to the hub until ctx is done.
func Relay(ctx context.Context, client *redis.Client, hub *Hub, patterns ...string) error {
	sub := client.PSubscribe(ctx, patterns...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			hub.Broadcast(kindOf(m.Channel), deviceOf(m.Channel), json.RawMessage(m.Payload))
		}
	}
}

// kindOf maps "device:<id>:alerts" to "alert" and "device:<id>:telemetry" to "telemetry".
func kindOf(channel string) string {
	switch {
	case strings.HasSuffix(channel, ":alerts"):
		return "alert"
	case strings.HasSuffix(channel, ":telemetry"):
		return "telemetry"
	default:
		return "event"
	}
}

// deviceOf extracts <id> from "device:<id>:<suffix>".
func deviceOf(channel string) string {
	rest, ok := strings.CutPrefix(channel, "device:")
	if !ok {
		return ""
	}
	if i := strings.LastIndexByte(rest, ':'); i >= 0 {
		return rest[:i]
	}
	return ""
}
