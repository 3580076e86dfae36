package realtime

import (
	"encoding/json"
	"fmt"

	"trade-settlement-go/internal/models"
)

// ClientMessage is one of the frames a client may send. The set is closed: decode
// returns only the types below and the hub dispatches them in a single type switch.
type ClientMessage interface {
	clientMessage()
}

type AuthMessage struct {
	Token string `json:"token"`
}

// JoinRoomMessage subscribes to a trade's events. Messages with a sequence after
// AfterSeq are replayed in the reply.
type JoinRoomMessage struct {
	TradeId  string `json:"trade_id"`
	AfterSeq int64  `json:"after_seq"`
}

type LeaveRoomMessage struct {
	TradeId string `json:"trade_id"`
}

type ChatMessage struct {
	TradeId     string             `json:"trade_id"`
	Message     string             `json:"message"`
	MessageType models.MessageType `json:"message_type"`
}

type PingMessage struct{}

func (AuthMessage) clientMessage()      {}
func (JoinRoomMessage) clientMessage()  {}
func (LeaveRoomMessage) clientMessage() {}
func (ChatMessage) clientMessage()      {}
func (PingMessage) clientMessage()      {}

const (
	typeAuth  = "auth"
	typeJoin  = "join_room"
	typeLeave = "leave_room"
	typeChat  = "chat"
	typePing  = "ping"
)

// decode parses a client frame of the form {"type": "...", ...fields}.
func decode(data []byte) (ClientMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	var msg ClientMessage
	switch envelope.Type {
	case typeAuth:
		var m AuthMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s message: %w", envelope.Type, err)
		}
		msg = m
	case typeJoin:
		var m JoinRoomMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s message: %w", envelope.Type, err)
		}
		msg = m
	case typeLeave:
		var m LeaveRoomMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s message: %w", envelope.Type, err)
		}
		msg = m
	case typeChat:
		var m ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("malformed %s message: %w", envelope.Type, err)
		}
		msg = m
	case typePing:
		msg = PingMessage{}
	default:
		return nil, fmt.Errorf("unknown message type %q", envelope.Type)
	}
	return msg, nil
}

// ServerMessage is every frame the hub sends.
type ServerMessage struct {
	Type     string               `json:"type"`
	TradeId  string               `json:"trade_id,omitempty"`
	Event    *models.TradeEvent   `json:"event,omitempty"`
	Messages []models.ChatMessage `json:"messages,omitempty"`
	Error    string               `json:"error,omitempty"`
}

const (
	replyAuthenticated = "authenticated"
	replyJoined        = "joined"
	replyLeft          = "left"
	replyEvent         = "event"
	replyPong          = "pong"
	replyError         = "error"
)
