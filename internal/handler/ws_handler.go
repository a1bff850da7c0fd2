package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/world-conflict/internal/auth"
	"github.com/freeeve/world-conflict/pkg/conflict"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
	maxMsgSize  = 4096
	sendBufSize = 256
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// SnapshotSource loads the live snapshot of a game.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, gameID string) (*conflict.Snapshot, error)
}

// WSHandler upgrades authenticated requests and relays game events.
type WSHandler struct {
	hub       *Hub
	jwtMgr    *auth.JWTManager
	snapshots SnapshotSource
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a WSHandler that accepts any origin. When snapshots
// is set, every new subscriber first receives the game's current snapshot.
func NewWSHandler(hub *Hub, jwtMgr *auth.JWTManager, snapshots SnapshotSource) *WSHandler {
	h := &WSHandler{hub: hub, jwtMgr: jwtMgr, snapshots: snapshots}
	h.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	h.AllowOrigins("*")
	return h
}

// AllowOrigins restricts browser upgrades to the comma separated origins,
// matching the CORS setting. "*" allows all. Requests without an Origin
// header are not from browsers and are always accepted.
func (h *WSHandler) AllowOrigins(origins string) {
	allowed := make(map[string]bool)
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] || allowed[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// ServeWS handles GET /api/v1/ws. Browsers cannot set headers on an
// upgrade, so the access token may come as ?token= instead of a bearer
// header.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token parameter")
		return
	}
	claims, err := h.jwtMgr.ValidateAccessToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("userId", claims.UserID).Msg("WebSocket upgrade failed")
		return
	}

	c := &WSConn{conn: conn, userID: claims.UserID, send: make(chan []byte, sendBufSize)}
	h.hub.Register(c)
	h.hub.SendTo(c, WSEvent{Type: EventConnected, Data: map[string]any{"user_id": claims.UserID}})

	ctx, cancel := context.WithCancel(context.Background())
	go h.writePump(c)
	go func() {
		defer cancel()
		h.readPump(ctx, c)
	}()

	log.Info().Str("userId", claims.UserID).Int("total", h.hub.ConnectionCount()).Msg("WebSocket client connected")
}

// readPump applies client messages until the connection drops. ctx is
// cancelled once it returns.
func (h *WSHandler) readPump(ctx context.Context, c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		log.Info().Str("userId", c.userID).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("userId", c.userID).Msg("WebSocket unexpected close")
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.hub.SendTo(c, WSEvent{Type: EventError, Data: map[string]string{"error": "malformed message"}})
			continue
		}
		h.handleMessage(ctx, c, msg)
	}
}

// handleMessage applies one client message.
func (h *WSHandler) handleMessage(ctx context.Context, c *WSConn, msg ClientMessage) {
	if msg.GameID == "" {
		h.hub.SendTo(c, WSEvent{Type: EventError, Data: map[string]string{"error": "game_id is required"}})
		return
	}
	switch msg.Action {
	case ActionSubscribe:
		if err := h.hub.Subscribe(c, msg.GameID); err != nil {
			h.hub.SendTo(c, WSEvent{Type: EventError, Data: map[string]string{"error": err.Error()}})
			return
		}
		h.sendSnapshot(ctx, c, msg.GameID)
	case ActionUnsubscribe:
		h.hub.Unsubscribe(c, msg.GameID)
	default:
		h.hub.SendTo(c, WSEvent{Type: EventError, GameID: msg.GameID, Data: map[string]string{"error": "unknown action " + msg.Action}})
	}
}

// sendSnapshot brings a new subscriber up to date. Games that have not
// started yet have no snapshot and send nothing.
func (h *WSHandler) sendSnapshot(ctx context.Context, c *WSConn, gameID string) {
	if h.snapshots == nil {
		return
	}
	snap, err := h.snapshots.GetSnapshot(ctx, gameID)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			log.Error().Err(err).Str("gameId", gameID).Msg("Failed to load snapshot for subscriber")
			h.hub.SendTo(c, WSEvent{Type: EventError, GameID: gameID, Data: map[string]string{"error": "snapshot unavailable"}})
		}
		return
	}
	h.hub.SendTo(c, WSEvent{Type: EventSnapshot, GameID: gameID, Data: snap})
}

// writePump sends each queued event as its own text frame and keeps the
// connection alive with pings. It exits when the hub closes c.send or a
// write fails.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("userId", c.userID).Msg("WebSocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
