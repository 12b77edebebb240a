package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tahoma-go-home/internal/coordinator"

	"nhooyr.io/websocket"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsCommandTimeout = 15 * time.Second
	wsReadLimit      = 4096
)

// WSHub fans coordinator events out to WebSocket clients.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan interface{}

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wsMessage is the envelope for everything the server pushes that is not a
// coordinator event.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wsCommand is a client request. Only set_position is understood.
type wsCommand struct {
	Action   string `json:"action"`
	ID       string `json:"id"`
	Position *int   `json:"position"`
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan interface{}, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It owns client registration and eviction.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("ws marshal", "err", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					delete(h.clients, client)
					close(client.send)
					h.logger.Warn("ws client evicted (too slow)")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast queues msg for every client, dropping it when the queue is full.
func (h *WSHub) Broadcast(msg interface{}) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast channel full, dropping message")
	}
}

// reply queues msg for a single client. The hub lock keeps the send
// channel open while writing.
func (h *WSHub) reply(client *wsClient, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal", "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	// The snapshot is queued before the hub knows the client, so it is
	// always the first message.
	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	if data, err := json.Marshal(wsMessage{Type: "snapshot", Data: s.coord.Registry().List()}); err == nil {
		client.send <- data
	}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		s.wsHub.reply(client, s.handleWSCommand(ctx, data))
	}
}

// handleWSCommand executes one client command and returns the reply.
func (s *Server) handleWSCommand(ctx context.Context, data []byte) wsMessage {
	var cmd wsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return wsMessage{Type: "error", Data: "invalid command"}
	}
	if cmd.Action != "set_position" || cmd.ID == "" || cmd.Position == nil {
		return wsMessage{Type: "error", Data: "unsupported command"}
	}

	ctx, cancel := context.WithTimeout(ctx, wsCommandTimeout)
	defer cancel()
	execID, err := s.coord.SetPosition(ctx, cmd.ID, *cmd.Position)
	if err != nil {
		s.logger.Warn("ws set position", "ref", cmd.ID, "position", *cmd.Position, "err", err)
		return wsMessage{Type: coordinator.EventCommandFailed, Data: map[string]interface{}{
			"id":    cmd.ID,
			"error": err.Error(),
		}}
	}
	return wsMessage{Type: "ack", Data: map[string]interface{}{
		"id":       cmd.ID,
		"position": *cmd.Position,
		"exec_id":  execID,
	}}
}
