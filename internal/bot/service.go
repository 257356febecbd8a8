package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	"github.com/velzar/velzar/internal/db"
	"github.com/velzar/velzar/internal/i18n"
)

type service struct {
	bot             *api.BotAPI
	db              db.Client
	defaultLanguage string
}

func NewService(bot *api.BotAPI, dbClient db.Client, defaultLanguage string) *service {
	if !i18n.IsSupported(defaultLanguage) {
		defaultLanguage = db.DefaultLanguage
	}
	return &service{
		bot:             bot,
		db:              dbClient,
		defaultLanguage: defaultLanguage,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

func (s *service) GetSettings(ctx context.Context, chatID int64) (*db.Settings, error) {
	settings, err := s.db.GetSettings(ctx, chatID)
	if err != nil {
		return nil, errors.WithMessage(err, "cant get settings")
	}
	if settings != nil {
		return settings, nil
	}
	settings = db.DefaultSettings(chatID)
	settings.Language = s.defaultLanguage
	if err := s.db.SetSettings(ctx, settings); err != nil {
		return nil, errors.WithMessage(err, "cant store default settings")
	}
	return settings, nil
}

func (s *service) SetSettings(ctx context.Context, settings *db.Settings) error {
	return errors.WithMessage(s.db.SetSettings(ctx, settings), "cant set settings")
}

// GetLanguage picks the chat language; private chats follow the user's client language when supported.
func (s *service) GetLanguage(ctx context.Context, chatID int64, user *api.User) string {
	if user != nil && chatID == user.ID && i18n.IsSupported(user.LanguageCode) {
		return user.LanguageCode
	}
	settings, err := s.GetSettings(ctx, chatID)
	if err != nil || settings.Language == "" {
		return s.defaultLanguage
	}
	return settings.Language
}
