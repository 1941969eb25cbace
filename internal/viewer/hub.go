// Package viewer streams display frames to browser clients over
// websockets.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultPingInterval = 2 * time.Second
	writeTimeout        = time.Second
	// Frames queued per client; a slower client drops frames.
	clientBuffer = 16
)

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
	send chan []byte
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// Hub fans JSON messages out to every connected client. The latest scene
// message is replayed to clients when they connect.
type Hub struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	logger       *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	scene   []byte
	last    []byte
	sent    uint64
	dropped uint64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: DefaultPingInterval,
		logger:       logger,
		clients:      make(map[*client]struct{}),
	}
}

// SetPingInterval changes the keep-alive interval for new clients.
func (h *Hub) SetPingInterval(d time.Duration) { h.pingInterval = d }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns how many messages were queued and dropped.
func (h *Hub) Stats() (sent, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sent, h.dropped
}

// Broadcast encodes v and queues it for every client. It never blocks.
func (h *Hub) Broadcast(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.publish(data, false)
	return nil
}

// BroadcastScene is Broadcast for messages that describe the whole scene;
// the latest one is sent first to every new client.
func (h *Hub) BroadcastScene(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.publish(data, true)
	return nil
}

func (h *Hub) publish(data []byte, scene bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if scene {
		h.scene = data
	} else {
		h.last = data
	}
	for c := range h.clients {
		select {
		case c.send <- data:
			h.sent++
		default:
			h.dropped++
		}
	}
}

// HandleWS upgrades the request and streams to the client until it
// disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("viewer: upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	for _, m := range [][]byte{h.scene, h.last} {
		if m != nil {
			c.send <- m
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("viewer: client connected", "remote", conn.RemoteAddr().String())

	done := make(chan struct{})
	go h.writeLoop(c, done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("viewer: read failed", "err", err)
			}
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(done)
	conn.Close()
	h.logger.Info("viewer: client disconnected", "remote", conn.RemoteAddr().String())
}

func (h *Hub) writeLoop(c *client, done <-chan struct{}) {
	var ping <-chan time.Time
	if h.pingInterval > 0 {
		t := time.NewTicker(h.pingInterval)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-done:
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// Serve listens on addr with the hub at /ws until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	h.logger.Info("viewer: listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
