package handlers

import (
	"context"
	"strings"
	"unicode/utf16"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/velzar/velzar/internal/adapters/llm"
	"github.com/velzar/velzar/internal/bot"
	"github.com/velzar/velzar/internal/handlers/base"
	"github.com/velzar/velzar/internal/i18n"
	"github.com/velzar/velzar/internal/moderation"
	"github.com/velzar/velzar/internal/persona"
)

type Conversation interface {
	Converse(ctx context.Context, history []llm.ChatCompletionMessage) (string, bool)
}

type Sender interface {
	Send(ctx context.Context, msg moderation.OutgoingMessage) (moderation.MessageRef, error)
}

// Responder answers private messages, and group messages that mention or reply to the bot.
type Responder struct {
	*base.BaseHandler
	oracle      Conversation
	sender      Sender
	filter      *moderation.HeuristicFilter
	ownerID     int64
	botID       int64
	botUserName string
}

func NewResponder(s bot.Service, oracle Conversation, sender Sender, filter *moderation.HeuristicFilter, ownerID int64, self api.User) *Responder {
	return &Responder{
		BaseHandler: base.NewBaseHandler(s, "responder"),
		oracle:      oracle,
		sender:      sender,
		filter:      filter,
		ownerID:     ownerID,
		botID:       self.ID,
		botUserName: self.UserName,
	}
}

func (r *Responder) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := r.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}
	msg := u.Message
	if msg == nil || msg.From == nil || msg.From.IsBot || msg.IsCommand() {
		return true, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" || !r.addressed(msg, chat) {
		return true, nil
	}
	lang := r.GetLanguage(ctx, chat, user)
	entry := r.GetLogger().WithFields(log.Fields{"chat_id": chat.ID, "user_id": user.ID})

	var reply string
	if match, ok := r.filter.Matches(text); ok && match.Kind == moderation.RuleJailbreak {
		entry.WithField("rule", match.Rule).Info("refused jailbreak attempt")
		reply = i18n.Get("Security notice: this request was rejected.", lang)
	} else {
		answer, ok := r.oracle.Converse(ctx, []llm.ChatCompletionMessage{
			{Role: llm.RoleSystem, Content: persona.Role(user.ID, r.ownerID)},
			{Role: llm.RoleUser, Content: text},
		})
		if !ok {
			answer = i18n.Get("I could not process that, try again later.", lang)
		}
		reply = answer
	}

	if _, err := r.sender.Send(ctx, moderation.OutgoingMessage{ChatID: chat.ID, Text: reply, ReplyTo: msg.MessageID}); err != nil {
		entry.WithField("error", err.Error()).Error("cant send reply")
	}
	return false, nil
}

// addressed reports whether msg talks to the bot.
func (r *Responder) addressed(msg *api.Message, chat *api.Chat) bool {
	if base.IsPrivate(chat) {
		return true
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == r.botID {
		return true
	}
	for _, entity := range msg.Entities {
		switch entity.Type {
		case "mention":
			if r.botUserName != "" && strings.EqualFold(entityText(msg.Text, entity), "@"+r.botUserName) {
				return true
			}
		case "text_mention":
			if entity.User != nil && entity.User.ID == r.botID {
				return true
			}
		}
	}
	return false
}

// entityText cuts an entity out of text; offsets count UTF-16 code units.
func entityText(text string, entity api.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	end := entity.Offset + entity.Length
	if entity.Offset < 0 || end > len(units) {
		return ""
	}
	return string(utf16.Decode(units[entity.Offset:end]))
}
