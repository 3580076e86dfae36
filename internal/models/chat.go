package models

import "time"

type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderAdmin  SenderType = "admin"
	SenderSystem SenderType = "system"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

// SystemSenderId is recorded as the sender of platform generated messages.
const SystemSenderId = "system"

// ChatMessage is one append-only entry in a trade's conversation.
// Seq and CreatedAt are strictly increasing within a trade.
type ChatMessage struct {
	Id          string      `db:"id" json:"id"`
	TradeId     string      `db:"trade_id" json:"trade_id"`
	Seq         int64       `db:"seq" json:"seq"`
	SenderId    string      `db:"sender_id" json:"sender_id"`
	SenderType  SenderType  `db:"sender_type" json:"sender_type"`
	Message     string      `db:"message" json:"message"`
	MessageType MessageType `db:"message_type" json:"message_type"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// NewSystemMessage builds an unsaved system message for a trade.
func NewSystemMessage(tradeId, text string) *ChatMessage {
	return &ChatMessage{
		TradeId:     tradeId,
		SenderId:    SystemSenderId,
		SenderType:  SenderSystem,
		Message:     text,
		MessageType: MessageSystem,
	}
}
