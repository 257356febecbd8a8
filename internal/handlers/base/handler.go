package base

import (
	"context"
	"errors"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/velzar/velzar/internal/bot"
	"github.com/velzar/velzar/internal/db"
)

var (
	ErrNilUpdate     = errors.New("nil update")
	ErrNilChatOrUser = errors.New("nil chat or user")
)

// BaseHandler provides common functionality for all handlers
type BaseHandler struct {
	service bot.Service
	logger  *log.Entry
}

func NewBaseHandler(service bot.Service, handlerName string) *BaseHandler {
	return &BaseHandler{
		service: service,
		logger:  log.WithField("handler", handlerName),
	}
}

func (h *BaseHandler) GetService() bot.Service {
	return h.service
}

func (h *BaseHandler) GetLogger() *log.Entry {
	return h.logger
}

// ValidateUpdate performs common update validation
func (h *BaseHandler) ValidateUpdate(u *api.Update, chat *api.Chat, user *api.User) error {
	if u == nil {
		return ErrNilUpdate
	}
	if chat == nil || user == nil {
		return ErrNilChatOrUser
	}
	return nil
}

// GetSettings returns stored settings, falling back to defaults when storage fails.
func (h *BaseHandler) GetSettings(ctx context.Context, chat *api.Chat) *db.Settings {
	settings, err := h.service.GetSettings(ctx, chat.ID)
	if err != nil {
		h.logger.WithField("error", err.Error()).Warn("cant get settings, using defaults")
		return db.DefaultSettings(chat.ID)
	}
	return settings
}

func (h *BaseHandler) GetLanguage(ctx context.Context, chat *api.Chat, user *api.User) string {
	return h.service.GetLanguage(ctx, chat.ID, user)
}

func IsPrivate(chat *api.Chat) bool {
	return chat != nil && chat.Type == "private"
}
