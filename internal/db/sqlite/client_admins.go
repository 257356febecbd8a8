package sqlite

import (
	"context"
	"fmt"
)

func (c *sqliteClient) ListAuthorizedAdmins(ctx context.Context) ([]int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var ids []int64
	if err := c.db.SelectContext(ctx, &ids, `SELECT user_id FROM authorized_admins ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("list authorized admins: %w", err)
	}
	return ids, nil
}

func (c *sqliteClient) IsAuthorizedAdmin(ctx context.Context, userID int64) (bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var count int
	if err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM authorized_admins WHERE user_id = ?`, userID); err != nil {
		return false, fmt.Errorf("check authorized admin %d: %w", userID, err)
	}
	return count > 0, nil
}

func (c *sqliteClient) AddAuthorizedAdmin(ctx context.Context, userID, addedBy int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO authorized_admins (user_id, added_by) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET added_by = excluded.added_by
	`, userID, addedBy)
	if err != nil {
		return fmt.Errorf("add authorized admin %d: %w", userID, err)
	}
	return nil
}

func (c *sqliteClient) RemoveAuthorizedAdmin(ctx context.Context, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM authorized_admins WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("remove authorized admin %d: %w", userID, err)
	}
	return nil
}
