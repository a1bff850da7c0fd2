package handler

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types the hub itself sends. Game events are named by the service
// package.
const (
	EventConnected = "connected"
	EventSnapshot  = "snapshot"
	EventError     = "error"
)

// maxSubscriptions bounds how many games one connection may watch.
const maxSubscriptions = 16

var ErrTooManySubscriptions = errors.New("too many subscriptions")

// WSEvent is the envelope for all WebSocket messages. Seq numbers the
// events of one game; a gap tells the client it missed something and
// should resubscribe for a fresh snapshot.
type WSEvent struct {
	Type   string `json:"type"`
	GameID string `json:"game_id,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
	Data   any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	GameID string `json:"game_id"`
}

// WSConn is one client connection. subs is guarded by the hub's lock.
type WSConn struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
	subs   map[string]struct{}
}

// Hub routes game events to the connections subscribed to them.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]struct{}
	games       map[string]map[*WSConn]struct{}
	seqs        map[string]uint64
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]struct{}),
		games:       make(map[string]map[*WSConn]struct{}),
		seqs:        make(map[string]uint64),
	}
}

func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = struct{}{}
}

// Unregister drops the connection and its subscriptions and closes its
// send channel. Calling it twice is harmless.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; !ok {
		return
	}
	delete(h.connections, c)
	for gameID := range c.subs {
		h.removeLocked(c, gameID)
	}
	close(c.send)
}

// Subscribe adds c to a game's audience.
func (h *Hub) Subscribe(c *WSConn, gameID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.subs[gameID]; ok {
		return nil
	}
	if len(c.subs) >= maxSubscriptions {
		return ErrTooManySubscriptions
	}
	if c.subs == nil {
		c.subs = make(map[string]struct{})
	}
	c.subs[gameID] = struct{}{}
	if h.games[gameID] == nil {
		h.games[gameID] = make(map[*WSConn]struct{})
	}
	h.games[gameID][c] = struct{}{}
	return nil
}

func (h *Hub) Unsubscribe(c *WSConn, gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, gameID)
}

func (h *Hub) removeLocked(c *WSConn, gameID string) {
	delete(c.subs, gameID)
	conns, ok := h.games[gameID]
	if !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.games, gameID)
		delete(h.seqs, gameID)
	}
}

// Notify stamps the next sequence number on event and queues it for every
// subscriber. Slow connections whose buffer is full miss the event.
func (h *Hub) Notify(gameID string, event WSEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.games[gameID]
	if len(conns) == 0 {
		return
	}
	h.seqs[gameID]++
	event.Seq = h.seqs[gameID]
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("gameId", gameID).Str("type", event.Type).Msg("Failed to marshal WebSocket event")
		return
	}
	for c := range conns {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("userId", c.userID).Str("gameId", gameID).Uint64("seq", event.Seq).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// SendTo queues an event for a single connection. Events about a game carry
// that game's current sequence number.
func (h *Hub) SendTo(c *WSConn, event WSEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[c]; !ok {
		return
	}
	if event.GameID != "" {
		event.Seq = h.seqs[event.GameID]
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("Failed to marshal WebSocket event")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("userId", c.userID).Str("type", event.Type).Msg("Dropping WebSocket message, buffer full")
	}
}

// BroadcastGameEvent implements service.Broadcaster.
func (h *Hub) BroadcastGameEvent(gameID string, eventType string, data any) {
	h.Notify(gameID, WSEvent{Type: eventType, GameID: gameID, Data: data})
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) GameSubscriberCount(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.games[gameID])
}
