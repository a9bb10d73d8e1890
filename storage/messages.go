package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dischat/models"
)

const messageColumns = `id, sender_id, receiver_id, content, sent_time, received_time, read_time, lamport_clock`

// InsertMessage persists a new message from senderID. The id and sent_time
// are assigned here; the caller's clock is never used for sent_time.
func (s *Store) InsertMessage(ctx context.Context, senderID string, msg models.NewMessage) (*models.Message, error) {
	if senderID == "" {
		return nil, errors.New("sender_id is required")
	}
	if msg.ReceiverID == "" {
		return nil, errors.New("receiver_id is required")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil, errors.New("content is required")
	}

	sentTime := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (
			sender_id,
			receiver_id,
			content,
			sent_time,
			lamport_clock
		) VALUES (?, ?, ?, ?, ?)`,
		senderID,
		msg.ReceiverID,
		msg.Content,
		sentTime,
		msg.LamportClock,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message from %q: %w", senderID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted message id: %w", err)
	}

	return &models.Message{
		ID:           id,
		SenderID:     senderID,
		ReceiverID:   msg.ReceiverID,
		Content:      msg.Content,
		SentTime:     fromUnixMilli(sentTime),
		LamportClock: msg.LamportClock,
	}, nil
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return message, nil
}

// Conversation returns every message between a and b in either direction,
// ordered by sent_time ascending with ties broken by id.
func (s *Store) Conversation(ctx context.Context, a, b string) ([]models.Message, error) {
	if a == "" || b == "" {
		return nil, errors.New("both participants are required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY sent_time ASC, id ASC`,
		a, b,
		b, a,
	)
	if err != nil {
		return nil, fmt.Errorf("get conversation %q<->%q: %w", a, b, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// MarkReceived stamps received_time on every message addressed to
// receiverID that has none yet. The stamp never precedes sent_time.
func (s *Store) MarkReceived(ctx context.Context, receiverID string, at time.Time) (int64, error) {
	if receiverID == "" {
		return 0, errors.New("receiver_id is required")
	}

	stamp := at.UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		SET received_time = MAX(?, sent_time)
		WHERE receiver_id = ? AND received_time IS NULL`,
		stamp,
		receiverID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark received for %q: %w", receiverID, err)
	}
	return rowsAffected(res, "mark received", receiverID)
}

// MarkRead stamps read_time on every message addressed to receiverID that
// has none yet. A row read before it was marked received gets both stamps.
func (s *Store) MarkRead(ctx context.Context, receiverID string, at time.Time) (int64, error) {
	if receiverID == "" {
		return 0, errors.New("receiver_id is required")
	}

	stamp := at.UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		SET read_time = MAX(?, sent_time, COALESCE(received_time, 0)),
		    received_time = COALESCE(received_time, MAX(?, sent_time))
		WHERE receiver_id = ? AND read_time IS NULL`,
		stamp,
		stamp,
		receiverID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read for %q: %w", receiverID, err)
	}
	return rowsAffected(res, "mark read", receiverID)
}

// MarkReceipt dispatches to MarkReceived or MarkRead by column name.
func (s *Store) MarkReceipt(ctx context.Context, column, receiverID string, at time.Time) (int64, error) {
	switch column {
	case ReceiptReceived:
		return s.MarkReceived(ctx, receiverID, at)
	case ReceiptRead:
		return s.MarkRead(ctx, receiverID, at)
	default:
		return 0, fmt.Errorf("invalid receipt column %q", column)
	}
}

func rowsAffected(res sql.Result, op, receiverID string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for %s %q: %w", op, receiverID, err)
	}
	return n, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		message      models.Message
		sentTime     int64
		receivedTime sql.NullInt64
		readTime     sql.NullInt64
	)

	if err := row.Scan(
		&message.ID,
		&message.SenderID,
		&message.ReceiverID,
		&message.Content,
		&sentTime,
		&receivedTime,
		&readTime,
		&message.LamportClock,
	); err != nil {
		return nil, err
	}

	message.SentTime = fromUnixMilli(sentTime)
	message.ReceivedTime = timePtr(receivedTime)
	message.ReadTime = timePtr(readTime)
	return &message, nil
}
