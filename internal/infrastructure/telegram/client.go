// Package telegram implements the moderation chat client on top of the Bot API.
package telegram

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	verrors "github.com/velzar/velzar/internal/errors"
	"github.com/velzar/velzar/internal/moderation"
	"github.com/velzar/velzar/internal/policy/permissions"
)

const memberCacheSize = 4096

var privilegeMarkers = []string{
	"not enough rights",
	"chat_admin_required",
	"need administrator rights",
	"have no rights",
}

// BotAPI is the subset of *api.BotAPI the client calls.
type BotAPI interface {
	Request(c api.Chattable) (*api.APIResponse, error)
	Send(c api.Chattable) (api.Message, error)
	GetChatMember(config api.GetChatMemberConfig) (api.ChatMember, error)
}

type memberKey struct {
	chatID int64
	userID int64
}

type Client struct {
	bot     BotAPI
	members *expirable.LRU[memberKey, moderation.MemberStatus]
	logger  *log.Entry
}

var _ moderation.ChatClient = (*Client)(nil)

// NewClient wraps bot. Member statuses are cached for memberTTL; sanctions evict the entry.
func NewClient(bot BotAPI, memberTTL time.Duration) *Client {
	return &Client{
		bot:     bot,
		members: expirable.NewLRU[memberKey, moderation.MemberStatus](memberCacheSize, nil, memberTTL),
		logger:  log.WithField("object", "TelegramClient"),
	}
}

func (c *Client) Restrict(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.members.Remove(memberKey{chatID, userID})
	_, err := c.bot.Request(api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		Permissions: &api.ChatPermissions{},
		UntilDate:   unixOrZero(until),

		UseIndependentChatPermissions: true,
	})
	return withPrivilegeError(err, "restrict")
}

func (c *Client) Unrestrict(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.members.Remove(memberKey{chatID, userID})
	_, err := c.bot.Request(api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		Permissions: &api.ChatPermissions{
			CanSendMessages:       true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
		},
	})
	return withPrivilegeError(err, "unrestrict")
}

func (c *Client) Ban(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.members.Remove(memberKey{chatID, userID})
	_, err := c.bot.Request(api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		UntilDate: unixOrZero(until),
	})
	return withPrivilegeError(err, "ban")
}

// Unban lets a removed member rejoin. Members that are not banned are left alone.
func (c *Client) Unban(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.members.Remove(memberKey{chatID, userID})
	_, err := c.bot.Request(api.UnbanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		OnlyIfBanned: true,
	})
	return withPrivilegeError(err, "unban")
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Request(api.NewDeleteMessage(chatID, messageID))
	return withPrivilegeError(err, "delete message of")
}

func (c *Client) Send(ctx context.Context, msg moderation.OutgoingMessage) (moderation.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return moderation.MessageRef{}, err
	}
	out := api.NewMessage(msg.ChatID, msg.Text)
	out.DisableNotification = true
	out.LinkPreviewOptions.IsDisabled = true
	if msg.ReplyTo != 0 {
		out.ReplyParameters = api.ReplyParameters{
			ChatID:                   msg.ChatID,
			MessageID:                msg.ReplyTo,
			AllowSendingWithoutReply: true,
		}
	}
	if len(msg.Buttons) > 0 {
		buttons := make([]api.InlineKeyboardButton, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			buttons = append(buttons, api.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out.ReplyMarkup = api.NewInlineKeyboardMarkup(api.NewInlineKeyboardRow(buttons...))
	}

	sent, err := c.bot.Send(out)
	if err != nil {
		return moderation.MessageRef{}, withPrivilegeError(err, "send message to")
	}
	return moderation.MessageRef{ChatID: msg.ChatID, MessageID: sent.MessageID}, nil
}

func (c *Client) MemberStatus(ctx context.Context, chatID, userID int64) (moderation.MemberStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := memberKey{chatID, userID}
	if status, ok := c.members.Get(key); ok {
		return status, nil
	}
	member, err := c.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	})
	if err != nil {
		return "", errors.WithMessage(err, "cant get chat member")
	}
	status := moderation.MemberStatus(member.Status)
	c.members.Add(key, status)
	return status, nil
}

// CanRestrict reports whether userID may moderate chatID. It is never cached.
func (c *Client) CanRestrict(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	member, err := c.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	})
	if err != nil {
		return false, errors.WithMessage(err, "cant get chat member")
	}
	return permissions.CanModerate(&member), nil
}

// AnswerCallback acknowledges a button press; alert shows text as a modal.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := api.NewCallback(callbackID, text)
	if alert {
		cfg = api.NewCallbackWithAlert(callbackID, text)
	}
	_, err := c.bot.Request(cfg)
	return errors.WithMessage(err, "cant answer callback")
}

func withPrivilegeError(err error, operation string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range privilegeMarkers {
		if strings.Contains(msg, marker) {
			return errors.Wrapf(verrors.ErrNoPrivileges, "cant %s user: %s", operation, err.Error())
		}
	}
	return errors.Wrapf(err, "cant %s user", operation)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
