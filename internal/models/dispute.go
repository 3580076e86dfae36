package models

import "time"

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Dispute freezes a trade until an admin resolves it.
type Dispute struct {
	Id         string        `db:"id" json:"id"`
	TradeId    string        `db:"trade_id" json:"trade_id"`
	UserId     string        `db:"user_id" json:"user_id"`
	Reason     string        `db:"reason" json:"reason"`
	Evidence   string        `db:"evidence" json:"evidence,omitempty"`
	Status     DisputeStatus `db:"status" json:"status"`
	Resolution Decision      `db:"resolution" json:"resolution,omitempty"`
	ResolvedBy string        `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}
