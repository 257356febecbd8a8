// Package handlers routes chat updates to the moderation engine and the conversation responder.
package handlers

import (
	"context"
	"errors"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/velzar/velzar/internal/bot"
	"github.com/velzar/velzar/internal/handlers/base"
	"github.com/velzar/velzar/internal/i18n"
	"github.com/velzar/velzar/internal/moderation"
)

type Moderator interface {
	EvaluateMessage(ctx context.Context, msg moderation.Message) moderation.Verdict
	EvaluateJoin(ctx context.Context, j moderation.Join) moderation.JoinOutcome
	Verify(ctx context.Context, chatID, userID, requesterID int64) error
}

type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Guard feeds group messages, joins and verify button presses to the moderation engine.
type Guard struct {
	*base.BaseHandler
	engine  Moderator
	answers CallbackAnswerer
}

func NewGuard(s bot.Service, engine Moderator, answers CallbackAnswerer) *Guard {
	return &Guard{
		BaseHandler: base.NewBaseHandler(s, "guard"),
		engine:      engine,
		answers:     answers,
	}
}

func (g *Guard) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := g.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}
	if base.IsPrivate(chat) {
		return true, nil
	}
	settings := g.GetSettings(ctx, chat)
	if !settings.Enabled {
		return true, nil
	}

	switch {
	case u.CallbackQuery != nil:
		return g.handleCallback(ctx, u.CallbackQuery, chat, user, settings.Language)
	case u.Message != nil && len(u.Message.NewChatMembers) > 0:
		g.handleJoins(ctx, u.Message, chat)
		return false, nil
	case u.Message != nil:
		return g.handleMessage(ctx, u.Message, chat, user, false), nil
	case u.EditedMessage != nil:
		return g.handleMessage(ctx, u.EditedMessage, chat, user, true), nil
	}
	return true, nil
}

func (g *Guard) handleCallback(ctx context.Context, cq *api.CallbackQuery, chat *api.Chat, user *api.User, lang string) (bool, error) {
	targetID, ok := moderation.ParseVerifyCallback(cq.Data)
	if !ok {
		return true, nil
	}
	entry := g.GetLogger().WithFields(log.Fields{
		"chat_id":   chat.ID,
		"user_id":   targetID,
		"requester": user.ID,
	})

	var text string
	var alert bool
	switch err := g.engine.Verify(ctx, chat.ID, targetID, user.ID); {
	case err == nil:
		text = i18n.Get("Verified, welcome!", lang)
	case errors.Is(err, moderation.ErrForeignRequester):
		text, alert = i18n.Get("This button is not for you", lang), true
	case errors.Is(err, moderation.ErrNotChallenged):
		text = i18n.Get("Nothing to verify", lang)
	default:
		entry.WithField("error", err.Error()).Error("cant verify")
		text = i18n.Get("Something went wrong, try again", lang)
	}
	if err := g.answers.AnswerCallback(ctx, cq.ID, text, alert); err != nil {
		entry.WithField("error", err.Error()).Debug("cant answer callback")
	}
	return false, nil
}

func (g *Guard) handleJoins(ctx context.Context, msg *api.Message, chat *api.Chat) {
	for i := range msg.NewChatMembers {
		member := &msg.NewChatMembers[i]
		outcome := g.engine.EvaluateJoin(ctx, moderation.Join{
			ChatID: chat.ID,
			UserID: member.ID,
			Name:   bot.GetFullName(member),
			IsBot:  member.IsBot,
		})
		g.GetLogger().WithFields(log.Fields{
			"chat_id": chat.ID,
			"user_id": member.ID,
			"outcome": outcome,
		}).Debug("join evaluated")
	}
}

// handleMessage evaluates the message and lets later handlers see it only when it was allowed.
// Media without text still goes to the engine so it counts toward flood.
func (g *Guard) handleMessage(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, edited bool) bool {
	if msg.From == nil || msg.From.IsBot || msg.SenderChat != nil {
		return true
	}
	text := bot.ExtractText(msg)
	if edited && text == "" {
		return true
	}
	verdict := g.engine.EvaluateMessage(ctx, moderation.Message{
		ChatID:    chat.ID,
		MessageID: msg.MessageID,
		UserID:    user.ID,
		Username:  user.UserName,
		Text:      text,
		Edited:    edited,
	})
	if !verdict.Allowed() {
		g.GetLogger().WithFields(log.Fields{
			"chat_id": chat.ID,
			"user_id": user.ID,
			"action":  verdict.Action,
			"layer":   verdict.Layer,
			"rule":    verdict.Rule,
		}).Info("message stopped")
		return false
	}
	return true
}
