// Package realtime fans trade events out to WebSocket clients grouped in per-trade
// rooms. Delivery is best effort: a client whose send buffer is full misses the frame
// and recovers by re-joining with its last seen sequence.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"trade-settlement-go/internal/auth"
	"trade-settlement-go/internal/chat"
	"trade-settlement-go/internal/metrics"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBufferSize = 64
	historyLimit   = 500
)

// TokenParser turns a bearer token into a principal.
type TokenParser interface {
	Parse(token string) (models.Principal, error)
}

// Conversations is the chat surface the hub drives.
type Conversations interface {
	History(ctx context.Context, p models.Principal, tradeId string, afterSeq int64, limit int) ([]models.ChatMessage, error)
	PostMessage(ctx context.Context, req chat.PostMessageRequest) (*models.ChatMessage, error)
}

type Hub struct {
	tokens   TokenParser
	chat     Conversations
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	rooms   map[string]map[*client]struct{}
	clients map[*client]struct{}
	closed  bool
}

func NewHub(tokens TokenParser, conversations Conversations) *Hub {
	return &Hub{
		tokens: tokens,
		chat:   conversations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms:   make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request. A bearer token in the Authorization header
// authenticates the socket up front; otherwise the first frame must be "auth".
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var principal *models.Principal
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		p, err := h.tokens.Parse(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		principal = &p
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		rooms:     make(map[string]struct{}),
		principal: principal,
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(context.WithoutCancel(r.Context()))
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.WebSocketClients.Inc()
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for tradeId := range c.rooms {
		h.leaveLocked(c, tradeId)
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Dec()
}

// join adds c to the trade's room and reports whether it was not a member yet.
func (h *Hub) join(c *client, tradeId string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[tradeId]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[tradeId] = room
	}
	if _, member := room[c]; member {
		return false
	}
	room[c] = struct{}{}
	c.rooms[tradeId] = struct{}{}
	return true
}

func (h *Hub) leave(c *client, tradeId string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, tradeId)
}

func (h *Hub) leaveLocked(c *client, tradeId string) {
	delete(c.rooms, tradeId)
	if room, ok := h.rooms[tradeId]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, tradeId)
		}
	}
}

// Name implements events.Sink.
func (h *Hub) Name() string { return "websocket" }

// Handle implements events.Sink by broadcasting event to the trade's room.
func (h *Hub) Handle(_ context.Context, event models.TradeEvent) error {
	frame, err := json.Marshal(ServerMessage{Type: replyEvent, TradeId: event.TradeId, Event: &event})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[event.TradeId] {
		c.enqueue(frame)
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// rooms and principal are owned by the read goroutine; rooms is also touched
	// under hub.mu.
	rooms     map[string]struct{}
	principal *models.Principal
}

// enqueue drops the frame when the client is not keeping up. Callers hold hub.mu.
func (c *client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		zap.L().Debug("WebSocket client lagging, dropping frame")
	}
}

func (c *client) reply(msg ServerMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		zap.L().Error("Failed to encode WebSocket reply", zap.Error(err))
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.enqueue(frame)
	}
}

func (c *client) fail(tradeId string, err error) {
	c.reply(ServerMessage{Type: replyError, TradeId: tradeId, Error: errorText(err)})
}

func errorText(err error) string {
	switch {
	case errors.Is(err, store.ErrForbidden):
		return "forbidden"
	case errors.Is(err, store.ErrNotFound):
		return "trade not found"
	case errors.Is(err, store.ErrInvalidArgument):
		return err.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid token"
	}
	return "internal error"
}

var errNotAuthenticated = errors.New("authenticate first")

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := decode(data)
		if err != nil {
			c.reply(ServerMessage{Type: replyError, Error: err.Error()})
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *client) dispatch(ctx context.Context, msg ClientMessage) {
	if _, isAuth := msg.(AuthMessage); !isAuth && c.principal == nil {
		if _, isPing := msg.(PingMessage); !isPing {
			c.reply(ServerMessage{Type: replyError, Error: errNotAuthenticated.Error()})
			return
		}
	}

	switch m := msg.(type) {
	case AuthMessage:
		p, err := c.hub.tokens.Parse(m.Token)
		if err != nil {
			c.fail("", err)
			return
		}
		c.principal = &p
		c.reply(ServerMessage{Type: replyAuthenticated})

	case JoinRoomMessage:
		// Join before reading history so nothing posted in between is missed.
		// Clients drop replayed messages they already saw by seq.
		added := c.hub.join(c, m.TradeId)
		history, err := c.hub.chat.History(ctx, *c.principal, m.TradeId, m.AfterSeq, historyLimit)
		if err != nil {
			if added {
				c.hub.leave(c, m.TradeId)
			}
			c.fail(m.TradeId, err)
			return
		}
		c.reply(ServerMessage{Type: replyJoined, TradeId: m.TradeId, Messages: history})

	case LeaveRoomMessage:
		c.hub.leave(c, m.TradeId)
		c.reply(ServerMessage{Type: replyLeft, TradeId: m.TradeId})

	case ChatMessage:
		_, err := c.hub.chat.PostMessage(ctx, chat.PostMessageRequest{
			TradeId:     m.TradeId,
			Sender:      *c.principal,
			Message:     m.Message,
			MessageType: m.MessageType,
		})
		if err != nil {
			c.fail(m.TradeId, err)
		}

	case PingMessage:
		c.reply(ServerMessage{Type: replyPong})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
