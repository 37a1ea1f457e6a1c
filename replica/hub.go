// Package replica moves document updates between replicas: a websocket hub for directly
// connected peers and a redis pub/sub relay between server instances.
package replica

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Client represents a single connected peer (either a browser UI or another replica).
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
}

// Done is closed once the connection has stopped reading.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// HubOptions configures a Hub.
type HubOptions struct {
	// OnMessage receives every message read from a client, on that client's read goroutine.
	OnMessage func(c *Client, msg []byte)
	// OnJoin returns messages sent to a client right after it registers.
	OnJoin func() [][]byte
	Logger *slog.Logger
}

type envelope struct {
	msg    []byte
	except *Client
	to     *Client
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	direct     chan envelope
	done       chan struct{}
	count      atomic.Int64
	opts       HubOptions
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHub returns a hub; Run must be called before clients connect.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan envelope),
		done:       make(chan struct{}),
		opts:       opts,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run serves register, unregister and broadcast requests until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.logger.Info("client registered", "clients", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info("client unregistered", "clients", len(h.clients))
			}
		case env := <-h.direct:
			if h.clients[env.to] {
				h.deliver(env.to, env.msg)
			}
		case env := <-h.broadcast:
			for client := range h.clients {
				if client == env.except {
					continue
				}
				h.deliver(client, env.msg)
			}
		}
	}
}

func (h *Hub) deliver(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("client send buffer full, dropping client")
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int64(len(h.clients)))
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	return int(h.count.Load())
}

// Broadcast sends msg to every client except the given one (nil for all).
// It returns false once the hub has stopped.
func (h *Hub) Broadcast(msg []byte, except *Client) bool {
	select {
	case h.broadcast <- envelope{msg: msg, except: except}:
		return true
	case <-h.done:
		return false
	}
}

// Send queues msg for c alone. It returns false once the hub has stopped.
func (h *Hub) Send(c *Client, msg []byte) bool {
	select {
	case h.direct <- envelope{msg: msg, to: c}:
		return true
	case <-h.done:
		return false
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.Attach(conn)
}

// Attach registers an established connection, accepted or dialed, and starts its pumps.
// It returns nil and closes conn when the hub has stopped.
func (h *Hub) Attach(conn *websocket.Conn) *Client {
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), closed: make(chan struct{})}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return nil
	}
	go client.writePump()
	if h.opts.OnJoin != nil {
		for _, msg := range h.opts.OnJoin() {
			h.Send(client, msg)
		}
	}
	go client.readPump()
	return client
}

func (c *Client) readPump() {
	defer close(c.closed)
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("client read failed", "error", err)
			}
			return
		}
		if c.hub.opts.OnMessage != nil {
			c.hub.opts.OnMessage(c, message)
		}
	}
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()
	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
