package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/velzar/velzar/internal/db"
)

type ServiceBot interface {
	GetBot() *api.BotAPI
}

type ServiceDB interface {
	GetDB() db.Client
}

// Service is what handlers share: the Bot API, storage and per-chat settings.
type Service interface {
	ServiceBot
	ServiceDB
	// GetSettings never returns nil settings without an error; missing chats get stored defaults.
	GetSettings(ctx context.Context, chatID int64) (*db.Settings, error)
	SetSettings(ctx context.Context, settings *db.Settings) error
	GetLanguage(ctx context.Context, chatID int64, user *api.User) string
}

// Handler processes an update. Returning proceed=false stops the handler chain.
type Handler interface {
	Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error)
}
