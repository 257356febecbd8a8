package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iamwavecut/tool"

	"github.com/velzar/velzar/internal/db"
)

// GetSettings returns nil without error when the chat has no stored settings.
func (c *sqliteClient) GetSettings(ctx context.Context, chatID int64) (*db.Settings, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	res := &db.Settings{}
	err := c.db.GetContext(ctx, res, `
		SELECT id, enabled, language, log_channel_id, welcome_text, captcha_enabled
		FROM chats WHERE id = ?
	`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings for %d: %w", chatID, err)
	}
	return res, nil
}

func (c *sqliteClient) SetSettings(ctx context.Context, settings *db.Settings) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO chats (id, enabled, language, log_channel_id, welcome_text, captcha_enabled)
		VALUES (:id, :enabled, :language, :log_channel_id, :welcome_text, :captcha_enabled)
		ON CONFLICT(id) DO UPDATE SET
		enabled = excluded.enabled,
		language = excluded.language,
		log_channel_id = excluded.log_channel_id,
		welcome_text = excluded.welcome_text,
		captcha_enabled = excluded.captcha_enabled
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, settings))
}
