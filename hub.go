package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"galaxion/sync/internal/delta"
	"galaxion/sync/internal/game"
	"galaxion/sync/internal/logging"
)

// Client is one WebSocket connection joined to a session's group.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	id        string
	closed    bool // guarded by the hub mutex
}

// Hub groups WebSocket connections by session and fans session payloads out to
// every member. It implements the broadcast sink.
type Hub struct {
	pingInterval time.Duration
	maxPayload   int64
	upgrader     websocket.Upgrader
	logger       *logging.Logger

	mu     sync.Mutex
	groups map[string]map[*Client]bool
}

// NewHub constructs an empty hub.
func NewHub(allowedOrigins []string, pingInterval time.Duration, maxPayload int64, logger *logging.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.L()
	}
	hub := &Hub{
		pingInterval: pingInterval,
		maxPayload:   maxPayload,
		logger:       logger,
		groups:       make(map[string]map[*Client]bool),
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return hub
}

// deltaMessage is the wire form of an update batch.
type deltaMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Updates   []delta.Update `json:"updates"`
}

// worldMessage is the wire form of a full-state catch-up payload.
type worldMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	World     *game.World `json:"world"`
}

// SendUpdates delivers a delta batch to every member of the session's group.
func (h *Hub) SendUpdates(ctx context.Context, sessionID string, updates []delta.Update) error {
	payload, err := json.Marshal(deltaMessage{Type: "delta", SessionID: sessionID, Updates: updates})
	if err != nil {
		return err
	}
	return h.deliver(ctx, sessionID, payload)
}

// SendWorld delivers a full world snapshot to every member of the session's
// group, used to catch clients up on join.
func (h *Hub) SendWorld(ctx context.Context, sessionID string, world *game.World) error {
	payload, err := json.Marshal(worldMessage{Type: "world", SessionID: sessionID, World: world})
	if err != nil {
		return err
	}
	return h.deliver(ctx, sessionID, payload)
}

// sendWorldTo targets one just-joined client instead of the whole group.
func (h *Hub) sendWorldTo(client *Client, world *game.World) error {
	payload, err := json.Marshal(worldMessage{Type: "world", SessionID: client.sessionID, World: world})
	if err != nil {
		return err
	}
	h.mu.Lock()
	queued := h.trySendLocked(client, payload)
	h.mu.Unlock()
	if !queued {
		h.drop(client)
	}
	return nil
}

// deliver fans a payload out to the session group, honouring the context and
// dropping members whose send buffers are full.
func (h *Hub) deliver(ctx context.Context, sessionID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	var wedged []*Client
	for client := range h.groups[sessionID] {
		if !h.trySendLocked(client, payload) {
			wedged = append(wedged, client)
		}
	}
	h.mu.Unlock()

	for _, client := range wedged {
		//1.- A wedged member loses its connection rather than stalling the group.
		h.drop(client)
	}
	return nil
}

// trySendLocked queues the payload without blocking. Callers must hold h.mu,
// which is the only place client.send may be closed, so a send can never race
// a close. It reports false when the client's buffer is full.
func (h *Hub) trySendLocked(client *Client, payload []byte) bool {
	if client.closed {
		return true
	}
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// MemberCount reports the live connection count for a session.
func (h *Hub) MemberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[sessionID])
}

// ServeWS upgrades the request and runs the connection's reader and writer
// until either side closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) *Client {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			logging.String("session_id", sessionID),
			logging.Error(err))
		return nil
	}
	if h.maxPayload > 0 {
		conn.SetReadLimit(h.maxPayload)
	}
	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: sessionID,
		id:        r.RemoteAddr,
	}

	h.mu.Lock()
	group, ok := h.groups[sessionID]
	if !ok {
		group = make(map[*Client]bool)
		h.groups[sessionID] = group
	}
	group[client] = true
	h.mu.Unlock()

	go h.readLoop(client)
	go h.writeLoop(client)

	h.logger.Info("client joined",
		logging.String("session_id", sessionID),
		logging.String("client", client.id))
	return client
}

// readLoop discards inbound frames; commands arrive over HTTP. Any read error
// ends the connection.
func (h *Hub) readLoop(client *Client) {
	defer h.drop(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(client *Client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// drop removes the client from its group and releases the connection. Safe to
// call multiple times for the same client. The send channel is closed while
// holding the hub mutex so in-flight broadcasts observe the closed flag first.
func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	removed := false
	if !client.closed {
		client.closed = true
		close(client.send)
		removed = true
		if group, ok := h.groups[client.sessionID]; ok {
			delete(group, client)
			if len(group) == 0 {
				delete(h.groups, client.sessionID)
			}
		}
	}
	h.mu.Unlock()

	if removed {
		client.conn.Close()
		h.logger.Info("client left",
			logging.String("session_id", client.sessionID),
			logging.String("client", client.id))
	}
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var members []*Client
	for _, group := range h.groups {
		for client := range group {
			members = append(members, client)
		}
	}
	h.mu.Unlock()
	for _, client := range members {
		h.drop(client)
	}
}
