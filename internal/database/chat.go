package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"github.com/google/uuid"
)

// AppendMessage stores msg as the next entry of its trade's thread. It must run inside
// a transaction so the sequence read and the insert are atomic.
func (r *repo) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	var lastSeq int64
	var lastAt time.Time
	err := r.queryRow(ctx, queryLastMessage, msg.TradeId).Scan(&lastSeq, &lastAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read last message: %w", err)
	}

	now := utcNow()
	if !lastAt.IsZero() && !now.After(lastAt.UTC()) {
		now = lastAt.UTC().Add(time.Microsecond)
	}

	if msg.Id == "" {
		msg.Id = uuid.New().String()
	}
	msg.Seq = lastSeq + 1
	msg.CreatedAt = now

	_, err = r.exec(ctx, queryInsertMessage,
		msg.Id, msg.TradeId, msg.Seq, msg.SenderId, msg.SenderType, msg.Message, msg.MessageType, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// AppendMessage outside a caller's transaction still needs one for the sequence read.
func (s *Service) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	return s.WithTx(ctx, func(tx store.Tx) error {
		return tx.AppendMessage(ctx, msg)
	})
}

func (r *repo) ListMessages(ctx context.Context, tradeId string, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.query(ctx, queryListMessages, tradeId, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer closeRows(rows)

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		err := rows.Scan(&m.Id, &m.TradeId, &m.Seq, &m.SenderId, &m.SenderType, &m.Message, &m.MessageType, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat message rows: %w", err)
	}
	return messages, nil
}
