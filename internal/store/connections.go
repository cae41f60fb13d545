package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Connect points userID's private session at chatID, replacing any
// previous connection.
func (s *SQLiteStore) Connect(ctx context.Context, userID, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (user_id, chat_id, connected_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET chat_id = excluded.chat_id, connected_at = excluded.connected_at`,
		userID, chatID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect removes the user's connection and reports whether one existed.
func (s *SQLiteStore) Disconnect(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("disconnect: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResolveTargetChat implements domain.ConnectionResolver.
func (s *SQLiteStore) ResolveTargetChat(ctx context.Context, userID int64) (int64, bool, error) {
	var chatID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id FROM connections WHERE user_id = ?`, userID,
	).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve connection: %w", err)
	}
	return chatID, true, nil
}
