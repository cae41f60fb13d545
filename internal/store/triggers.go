package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"filterbot/internal/domain"
)

// Add upserts a filter. An existing (chat, keyword) pair keeps its position
// in the chat's enumeration order but every other field is replaced,
// buttons included.
func (s *SQLiteStore) Add(ctx context.Context, chatID int64, keyword string, resp domain.Response) error {
	trig := domain.Trigger{ChatID: chatID, Keyword: keyword, Response: resp}
	if err := checkTrigger(&trig); err != nil {
		return fmt.Errorf("add filter: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertTrigger(ctx, tx, trig, time.Now())
	})
}

// AddAll upserts triggers in order inside one transaction. Every trigger
// is checked first; any failure stores nothing.
func (s *SQLiteStore) AddAll(ctx context.Context, triggers []domain.Trigger) error {
	checked := make([]domain.Trigger, len(triggers))
	for i, trig := range triggers {
		if err := checkTrigger(&trig); err != nil {
			return fmt.Errorf("add filter %q: %w", trig.Keyword, err)
		}
		checked[i] = trig
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		for _, trig := range checked {
			if err := upsertTrigger(ctx, tx, trig, now); err != nil {
				return fmt.Errorf("add filter %q: %w", trig.Keyword, err)
			}
		}
		return nil
	})
}

// checkTrigger normalizes the keyword and kind of trig and rejects
// responses that cannot be stored.
func checkTrigger(trig *domain.Trigger) error {
	trig.Keyword = domain.NormalizeKeyword(trig.Keyword)
	if trig.Keyword == "" {
		return domain.ErrNoKeyword
	}
	if err := trig.Response.Validate(); err != nil {
		return err
	}
	if trig.Kind == "" {
		trig.Kind = domain.KindText
	}
	return nil
}

func upsertTrigger(ctx context.Context, tx *sql.Tx, trig domain.Trigger, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cust_filters (chat_id, keyword, reply, kind, has_markdown, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id, keyword) DO UPDATE SET
		   reply = excluded.reply,
		   kind = excluded.kind,
		   has_markdown = excluded.has_markdown,
		   updated_at = excluded.updated_at`,
		trig.ChatID, trig.Keyword, trig.Reply, string(trig.Kind), trig.HasMarkdown, now, now,
	); err != nil {
		return fmt.Errorf("upsert filter: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM cust_filters WHERE chat_id = ? AND keyword = ?`, trig.ChatID, trig.Keyword,
	).Scan(&id); err != nil {
		return fmt.Errorf("lookup filter id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cust_filter_buttons WHERE filter_id = ?`, id); err != nil {
		return fmt.Errorf("clear buttons: %w", err)
	}
	for r, row := range trig.Buttons {
		for c, btn := range row {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO cust_filter_buttons (filter_id, row_index, col_index, label, target)
				 VALUES (?, ?, ?, ?, ?)`,
				id, r, c, btn.Label, btn.Target,
			); err != nil {
				return fmt.Errorf("insert button: %w", err)
			}
		}
	}
	return nil
}

// Remove deletes a filter and reports whether it existed.
func (s *SQLiteStore) Remove(ctx context.Context, chatID int64, keyword string) (bool, error) {
	keyword = domain.NormalizeKeyword(keyword)
	removed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM cust_filters WHERE chat_id = ? AND keyword = ?`, chatID, keyword,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup filter: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cust_filter_buttons WHERE filter_id = ?`, id); err != nil {
			return fmt.Errorf("delete buttons: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cust_filters WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete filter: %w", err)
		}
		removed = true
		return nil
	})
	return removed, err
}

// Get returns the filter or domain.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, chatID int64, keyword string) (*domain.Trigger, error) {
	keyword = domain.NormalizeKeyword(keyword)
	var t *domain.Trigger
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			id   int64
			kind string
		)
		trig := domain.Trigger{ChatID: chatID, Keyword: keyword}
		err := tx.QueryRowContext(ctx,
			`SELECT id, reply, kind, has_markdown FROM cust_filters WHERE chat_id = ? AND keyword = ?`,
			chatID, keyword,
		).Scan(&id, &trig.Reply, &kind, &trig.HasMarkdown)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get filter: %w", err)
		}
		trig.Kind = domain.Kind(kind)

		buttons, err := loadButtons(ctx, tx, id)
		if err != nil {
			return err
		}
		trig.Buttons = buttons
		t = &trig
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func loadButtons(ctx context.Context, tx *sql.Tx, filterID int64) ([][]domain.Button, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT row_index, label, target FROM cust_filter_buttons
		 WHERE filter_id = ? ORDER BY row_index, col_index`, filterID,
	)
	if err != nil {
		return nil, fmt.Errorf("query buttons: %w", err)
	}
	defer rows.Close()

	var (
		buttons [][]domain.Button
		lastRow = -1
	)
	for rows.Next() {
		var (
			rowIdx int
			btn    domain.Button
		)
		if err := rows.Scan(&rowIdx, &btn.Label, &btn.Target); err != nil {
			return nil, err
		}
		if rowIdx != lastRow {
			buttons = append(buttons, nil)
			lastRow = rowIdx
		}
		buttons[len(buttons)-1] = append(buttons[len(buttons)-1], btn)
	}
	return buttons, rows.Err()
}

// ListKeywords returns the chat's keywords in insertion order.
func (s *SQLiteStore) ListKeywords(ctx context.Context, chatID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT keyword FROM cust_filters WHERE chat_id = ? ORDER BY id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	var keywords []string
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, err
		}
		keywords = append(keywords, kw)
	}
	return keywords, rows.Err()
}

// RemoveAll deletes every filter of the chat and returns how many were removed.
func (s *SQLiteStore) RemoveAll(ctx context.Context, chatID int64) (int, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cust_filter_buttons
			 WHERE filter_id IN (SELECT id FROM cust_filters WHERE chat_id = ?)`, chatID,
		); err != nil {
			return fmt.Errorf("delete buttons: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM cust_filters WHERE chat_id = ?`, chatID)
		if err != nil {
			return fmt.Errorf("delete filters: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// MigrateChat moves every filter from oldChatID to newChatID. Filters that
// already exist under newChatID with a colliding keyword are replaced by
// the migrated ones.
func (s *SQLiteStore) MigrateChat(ctx context.Context, oldChatID, newChatID int64) error {
	if oldChatID == newChatID {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		collisions := `SELECT id FROM cust_filters
			WHERE chat_id = ? AND keyword IN (SELECT keyword FROM cust_filters WHERE chat_id = ?)`
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cust_filter_buttons WHERE filter_id IN (`+collisions+`)`, newChatID, oldChatID,
		); err != nil {
			return fmt.Errorf("drop colliding buttons: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cust_filters WHERE id IN (`+collisions+`)`, newChatID, oldChatID,
		); err != nil {
			return fmt.Errorf("drop colliding filters: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE cust_filters SET chat_id = ? WHERE chat_id = ?`, newChatID, oldChatID,
		); err != nil {
			return fmt.Errorf("move filters: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE connections SET chat_id = ? WHERE chat_id = ?`, newChatID, oldChatID,
		); err != nil {
			return fmt.Errorf("move connections: %w", err)
		}
		return nil
	})
}

// CountTriggers returns the number of filters across all chats.
func (s *SQLiteStore) CountTriggers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cust_filters`).Scan(&n)
	return n, err
}

// CountChats returns the number of chats with at least one filter.
func (s *SQLiteStore) CountChats(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT chat_id) FROM cust_filters`).Scan(&n)
	return n, err
}
