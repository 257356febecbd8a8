package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/velzar/velzar/internal/db"
)

func (c *sqliteClient) AddBanLog(ctx context.Context, entry *db.BanLogEntry) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO bans (user_id, chat_id, admin_id, action, reason, created_at)
		VALUES (:user_id, :chat_id, :admin_id, :action, :reason, :created_at)
	`
	res, err := c.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return fmt.Errorf("add ban log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListBanLog returns the newest entries for a chat first.
func (c *sqliteClient) ListBanLog(ctx context.Context, chatID int64, limit int) ([]*db.BanLogEntry, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	var entries []*db.BanLogEntry
	err := c.db.SelectContext(ctx, &entries, `
		SELECT id, user_id, chat_id, admin_id, action, reason, created_at
		FROM bans WHERE chat_id = ?
		ORDER BY id DESC LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ban log: %w", err)
	}
	return entries, nil
}
