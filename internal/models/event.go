package models

import "time"

type EventType string

const (
	EventTradeCreated    EventType = "trade.created"
	EventTradeAssigned   EventType = "trade.assigned"
	EventProofUploaded   EventType = "trade.proof_uploaded"
	EventTradeCompleted  EventType = "trade.completed"
	EventTradeRejected   EventType = "trade.rejected"
	EventTradeCancelled  EventType = "trade.cancelled"
	EventTradeDisputed   EventType = "trade.disputed"
	EventDisputeResolved EventType = "dispute.resolved"
	EventChatMessage     EventType = "chat.message"
)

// TradeEvent is emitted after every committed trade transition or chat message.
// Trade carries a snapshot of the trade as committed.
type TradeEvent struct {
	Type       EventType    `json:"type"`
	TradeId    string       `json:"trade_id"`
	Trade      *Trade       `json:"trade,omitempty"`
	Message    *ChatMessage `json:"message,omitempty"`
	Dispute    *Dispute     `json:"dispute,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// EventForStatus maps a terminal status to its event type.
func EventForStatus(s TradeStatus) EventType {
	switch s {
	case TradeCompleted:
		return EventTradeCompleted
	case TradeRejected:
		return EventTradeRejected
	case TradeCancelled:
		return EventTradeCancelled
	case TradeDisputed:
		return EventTradeDisputed
	case TradeAwaitingVerification:
		return EventProofUploaded
	}
	return EventTradeCreated
}
