package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/velzar/velzar/internal/db"
)

func (c *sqliteClient) GetOrCreateUser(ctx context.Context, userID int64, username string) (*db.User, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO users (id, username) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
		username = CASE WHEN excluded.username != '' THEN excluded.username ELSE users.username END
	`
	if _, err := c.db.ExecContext(ctx, query, userID, username); err != nil {
		return nil, fmt.Errorf("upsert user %d: %w", userID, err)
	}
	user := &db.User{}
	if err := c.db.GetContext(ctx, user, `SELECT id, username, trust_score, created_at, updated_at FROM users WHERE id = ?`, userID); err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	return user, nil
}

func (c *sqliteClient) GetTrust(ctx context.Context, userID int64) (int, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var score int
	err := c.db.GetContext(ctx, &score, `SELECT trust_score FROM users WHERE id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get trust for %d: %w", userID, err)
	}
	return score, nil
}

func (c *sqliteClient) IncrementTrust(ctx context.Context, userID int64) (int, error) {
	return c.updateTrust(ctx, userID, `
		INSERT INTO users (id, trust_score) VALUES (?, 1)
		ON CONFLICT(id) DO UPDATE SET
		trust_score = users.trust_score + 1,
		updated_at = CURRENT_TIMESTAMP
		RETURNING trust_score
	`)
}

func (c *sqliteClient) DecrementTrust(ctx context.Context, userID int64) (int, error) {
	return c.updateTrust(ctx, userID, `
		INSERT INTO users (id, trust_score) VALUES (?, 0)
		ON CONFLICT(id) DO UPDATE SET
		trust_score = MAX(users.trust_score - 1, 0),
		updated_at = CURRENT_TIMESTAMP
		RETURNING trust_score
	`)
}

func (c *sqliteClient) ResetTrust(ctx context.Context, userID int64) error {
	_, err := c.updateTrust(ctx, userID, `
		INSERT INTO users (id, trust_score) VALUES (?, 0)
		ON CONFLICT(id) DO UPDATE SET
		trust_score = 0,
		updated_at = CURRENT_TIMESTAMP
		RETURNING trust_score
	`)
	return err
}

func (c *sqliteClient) updateTrust(ctx context.Context, userID int64, query string) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var score int
	if err := c.db.GetContext(ctx, &score, query, userID); err != nil {
		return 0, fmt.Errorf("update trust for %d: %w", userID, err)
	}
	return score, nil
}
