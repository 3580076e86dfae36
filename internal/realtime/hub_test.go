package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"trade-settlement-go/internal/auth"
	"trade-settlement-go/internal/chat"
	"trade-settlement-go/internal/database"
	"trade-settlement-go/internal/events"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/settlement"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	server   *httptest.Server
	verifier *auth.Verifier
	engine   *settlement.Engine
	chat     *chat.Coordinator
	hub      *Hub
	tradeId  string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	service, err := database.NewService(ctx, database.MemoryConfig())
	require.NoError(t, err)
	t.Cleanup(service.Close)

	verifier, err := auth.NewVerifier(testSecret, "")
	require.NoError(t, err)

	bus := events.NewBus(64)
	coordinator := chat.NewCoordinator(service, models.DisputeConfig{}, chat.WithPublisher(bus))
	engine := settlement.NewEngine(service, models.SettlementConfig{}, models.AssignmentConfig{}, settlement.WithPublisher(bus))
	hub := NewHub(verifier, coordinator)
	bus.Subscribe(hub)
	bus.Start(ctx)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		bus.Close()
	})

	created, err := engine.CreateTrade(ctx, settlement.CreateTradeRequest{
		UserId:        "user1",
		Type:          models.TradeBuy,
		Crypto:        models.BTC,
		CryptoAmount:  decimal.RequireFromString("0.01"),
		FiatAmount:    decimal.NewFromInt(1000000),
		Country:       "NG",
		PaymentMethod: "bank_transfer",
	})
	require.NoError(t, err)

	return &fixture{server: server, verifier: verifier, engine: engine, chat: coordinator, hub: hub, tradeId: created.Trade.Id}
}

func (f *fixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) token(t *testing.T, id string, role models.Role) string {
	t.Helper()
	token, err := f.verifier.Issue(models.Principal{Id: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

// next reads frames until one of the wanted type arrives.
func next(t *testing.T, conn *websocket.Conn, want string) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

func TestHub_JoinReplayAndBroadcast(t *testing.T) {
	f := setup(t)
	conn := f.dial(t, nil)

	send(t, conn, map[string]any{"type": "auth", "token": f.token(t, "user1", models.RoleUser)})
	next(t, conn, replyAuthenticated)

	send(t, conn, map[string]any{"type": "join_room", "trade_id": f.tradeId})
	joined := next(t, conn, replyJoined)
	require.Len(t, joined.Messages, 1)
	assert.Equal(t, models.SenderSystem, joined.Messages[0].SenderType)

	send(t, conn, map[string]any{"type": "chat", "trade_id": f.tradeId, "message": "I have paid"})
	for {
		frame := next(t, conn, replyEvent)
		if frame.Event.Type == models.EventChatMessage {
			assert.Equal(t, "I have paid", frame.Event.Message.Message)
			assert.Equal(t, int64(2), frame.Event.Message.Seq)
			break
		}
	}

	send(t, conn, map[string]any{"type": "ping"})
	next(t, conn, replyPong)
}

func TestHub_HeaderAuthAndAdminSeesSettlement(t *testing.T) {
	f := setup(t)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.token(t, "A", models.RoleAdmin))
	conn := f.dial(t, header)

	send(t, conn, map[string]any{"type": "join_room", "trade_id": f.tradeId, "after_seq": 1})
	joined := next(t, conn, replyJoined)
	assert.Empty(t, joined.Messages)

	_, err := f.engine.CancelTrade(context.Background(), f.tradeId, "user1")
	require.NoError(t, err)

	for {
		frame := next(t, conn, replyEvent)
		if frame.Event.Type == models.EventTradeCancelled {
			assert.Equal(t, models.TradeCancelled, frame.Event.Trade.Status)
			break
		}
	}
}

func TestHub_RejectsUnauthenticatedAndStrangers(t *testing.T) {
	f := setup(t)
	conn := f.dial(t, nil)

	send(t, conn, map[string]any{"type": "join_room", "trade_id": f.tradeId})
	assert.Equal(t, errNotAuthenticated.Error(), next(t, conn, replyError).Error)

	send(t, conn, map[string]any{"type": "auth", "token": "garbage"})
	assert.Equal(t, "invalid token", next(t, conn, replyError).Error)

	send(t, conn, map[string]any{"type": "auth", "token": f.token(t, "user2", models.RoleUser)})
	next(t, conn, replyAuthenticated)

	send(t, conn, map[string]any{"type": "join_room", "trade_id": f.tradeId})
	assert.Equal(t, "forbidden", next(t, conn, replyError).Error)
	assert.Zero(t, f.hub.roomSize(f.tradeId))

	send(t, conn, map[string]any{"type": "teleport"})
	assert.Contains(t, next(t, conn, replyError).Error, "unknown message type")
}

func TestHub_BadHeaderTokenRefused(t *testing.T) {
	f := setup(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	header := http.Header{}
	header.Set("Authorization", "Bearer nope")

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDecode(t *testing.T) {
	msg, err := decode([]byte(`{"type":"join_room","trade_id":"t1","after_seq":4}`))
	require.NoError(t, err)
	assert.Equal(t, JoinRoomMessage{TradeId: "t1", AfterSeq: 4}, msg)

	msg, err = decode([]byte(`{"type":"chat","trade_id":"t1","message":"hi","message_type":"text"}`))
	require.NoError(t, err)
	assert.Equal(t, ChatMessage{TradeId: "t1", Message: "hi", MessageType: models.MessageText}, msg)

	_, err = decode([]byte(`{"type":`))
	assert.Error(t, err)
	_, err = decode([]byte(`{"type":"join_room","after_seq":"x"}`))
	assert.Error(t, err)
}

func (h *Hub) roomSize(tradeId string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tradeId])
}

// joinWatcher records how many clients were in the room each time history was read.
type joinWatcher struct {
	Conversations
	hub   *Hub
	mu    sync.Mutex
	sizes []int
}

func (w *joinWatcher) History(ctx context.Context, p models.Principal, tradeId string, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	w.mu.Lock()
	w.sizes = append(w.sizes, w.hub.roomSize(tradeId))
	w.mu.Unlock()
	return w.Conversations.History(ctx, p, tradeId, afterSeq, limit)
}

func TestHub_JoinsRoomBeforeReplay(t *testing.T) {
	f := setup(t)
	watcher := &joinWatcher{Conversations: f.chat}
	hub := NewHub(f.verifier, watcher)
	watcher.hub = hub
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.token(t, "user1", models.RoleUser))
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	send(t, conn, map[string]any{"type": "join_room", "trade_id": f.tradeId})
	joined := next(t, conn, replyJoined)
	require.Len(t, joined.Messages, 1)

	// Joining twice keeps the membership when history is read again.
	send(t, conn, map[string]any{"type": "join_room", "trade_id": f.tradeId, "after_seq": 1})
	next(t, conn, replyJoined)

	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	assert.Equal(t, []int{1, 1}, watcher.sizes)
	assert.Equal(t, 1, hub.roomSize(f.tradeId))
}
