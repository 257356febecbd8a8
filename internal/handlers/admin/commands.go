// Package handlers implements the group admin commands.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/velzar/velzar/internal/bot"
	"github.com/velzar/velzar/internal/db"
	verrors "github.com/velzar/velzar/internal/errors"
	"github.com/velzar/velzar/internal/handlers/base"
	"github.com/velzar/velzar/internal/i18n"
	"github.com/velzar/velzar/internal/moderation"
)

const defaultMute = time.Hour

type Moderator interface {
	Sanction(ctx context.Context, s moderation.Sanction) error
	Unlock(ctx context.Context, chatID int64) bool
}

type TrustLedger interface {
	Get(ctx context.Context, userID int64) (int, error)
	Decrease(ctx context.Context, userID int64) (int, error)
}

type Notices interface {
	Ephemeral(ctx context.Context, chatID int64, text string)
}

type MemberClient interface {
	CanRestrict(ctx context.Context, chatID, userID int64) (bool, error)
	Unrestrict(ctx context.Context, chatID, userID int64) error
}

type Classifier interface {
	Classify(ctx context.Context, text string) moderation.Classification
}

type AdminStore interface {
	IsAuthorizedAdmin(ctx context.Context, userID int64) (bool, error)
	AddAuthorizedAdmin(ctx context.Context, userID, addedBy int64) error
	RemoveAuthorizedAdmin(ctx context.Context, userID int64) error
}

type Deps struct {
	Engine  Moderator
	Trust   TrustLedger
	Notices Notices
	Members MemberClient
	Judge   Classifier
	Store   AdminStore
}

// Admin serves the moderation commands of group admins and the bot owner.
type Admin struct {
	*base.BaseHandler
	deps    Deps
	ownerID int64
}

func NewAdmin(s bot.Service, deps Deps, ownerID int64) *Admin {
	return &Admin{
		BaseHandler: base.NewBaseHandler(s, "admin"),
		deps:        deps,
		ownerID:     ownerID,
	}
}

// command carries one parsed invocation through its handler.
type command struct {
	msg    *api.Message
	chat   *api.Chat
	user   *api.User
	target *api.User
	args   string
	lang   string
}

func (a *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if err := a.ValidateUpdate(u, chat, user); err != nil {
		return true, nil
	}
	msg := u.Message
	if msg == nil || !msg.IsCommand() || base.IsPrivate(chat) {
		return true, nil
	}
	run, ok := a.route(msg.Command())
	if !ok {
		return true, nil
	}

	settings := a.GetSettings(ctx, chat)
	cmd := &command{
		msg:  msg,
		chat: chat,
		user: user,
		args: strings.TrimSpace(msg.CommandArguments()),
		lang: settings.Language,
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		cmd.target = msg.ReplyToMessage.From
	}

	entry := a.GetLogger().WithFields(log.Fields{
		"chat_id": chat.ID,
		"user_id": user.ID,
		"command": msg.Command(),
	})
	if !a.allowed(ctx, cmd) {
		entry.Info("unauthorized command")
		a.reply(ctx, cmd, i18n.Get("You are not allowed to use this command", cmd.lang))
		return false, nil
	}
	entry.Debug("running command")
	if err := run(ctx, cmd); err != nil {
		entry.WithField("error", err.Error()).Error("command failed")
		a.reply(ctx, cmd, i18n.Get("Something went wrong, try again", cmd.lang))
	}
	return false, nil
}

func (a *Admin) route(name string) (func(context.Context, *command) error, bool) {
	switch name {
	case "ban":
		return a.handleBan, true
	case "mute":
		return a.handleMute, true
	case "unmute":
		return a.handleUnmute, true
	case "kick":
		return a.handleKick, true
	case "warn":
		return a.handleWarn, true
	case "unlock":
		return a.handleUnlock, true
	case "check":
		return a.handleCheck, true
	case "trust":
		return a.handleTrust, true
	case "setlog":
		return a.handleSetLog, true
	case "setwelcome":
		return a.handleSetWelcome, true
	case "captcha":
		return a.handleCaptcha, true
	case "lang":
		return a.handleLang, true
	case "auth":
		return a.handleAuth, true
	case "unauth":
		return a.handleUnauth, true
	}
	return nil, false
}

// allowed applies the per-command access rules: everybody may read their own trust,
// only the owner manages authorized admins, the rest needs moderation rights.
func (a *Admin) allowed(ctx context.Context, cmd *command) bool {
	switch cmd.msg.Command() {
	case "trust":
		if cmd.target == nil || cmd.target.ID == cmd.user.ID {
			return true
		}
	case "auth", "unauth":
		return a.isOwner(cmd.user.ID)
	}
	return a.isAdmin(ctx, cmd.chat.ID, cmd.user.ID)
}

func (a *Admin) isOwner(userID int64) bool {
	return a.ownerID != 0 && userID == a.ownerID
}

func (a *Admin) isAdmin(ctx context.Context, chatID, userID int64) bool {
	if a.isOwner(userID) {
		return true
	}
	entry := a.GetLogger().WithFields(log.Fields{"chat_id": chatID, "user_id": userID})
	authorized, err := a.deps.Store.IsAuthorizedAdmin(ctx, userID)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant check authorized admins")
	}
	if authorized {
		return true
	}
	can, err := a.deps.Members.CanRestrict(ctx, chatID, userID)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant check member rights")
		return false
	}
	return can
}

func (a *Admin) reply(ctx context.Context, cmd *command, text string) {
	a.deps.Notices.Ephemeral(ctx, cmd.chat.ID, text)
}

// needTarget replies with a hint and reports false when the command was not a reply.
func (a *Admin) needTarget(ctx context.Context, cmd *command) bool {
	if cmd.target != nil {
		return true
	}
	a.reply(ctx, cmd, i18n.Get("Reply to a message of the member you want to target", cmd.lang))
	return false
}

func (a *Admin) sanction(ctx context.Context, cmd *command, action moderation.Action, duration time.Duration, reason string) error {
	if reason == "" {
		reason = "admin decision"
	}
	err := a.deps.Engine.Sanction(ctx, moderation.Sanction{
		ChatID:    cmd.chat.ID,
		UserID:    cmd.target.ID,
		Username:  cmd.target.UserName,
		MessageID: cmd.msg.ReplyToMessage.MessageID,
		AdminID:   cmd.user.ID,
		Action:    action,
		Duration:  duration,
		Reason:    reason,
	})
	// the engine already told the chat about missing rights
	if err != nil && !isPrivilegeError(err) {
		return err
	}
	return nil
}

func (a *Admin) updateSettings(ctx context.Context, cmd *command, apply func(*db.Settings)) error {
	settings, err := a.GetService().GetSettings(ctx, cmd.chat.ID)
	if err != nil {
		return err
	}
	apply(settings)
	return a.GetService().SetSettings(ctx, settings)
}

func (a *Admin) handleBan(ctx context.Context, cmd *command) error {
	if !a.needTarget(ctx, cmd) {
		return nil
	}
	return a.sanction(ctx, cmd, moderation.ActionBan, 0, cmd.args)
}

func (a *Admin) handleKick(ctx context.Context, cmd *command) error {
	if !a.needTarget(ctx, cmd) {
		return nil
	}
	return a.sanction(ctx, cmd, moderation.ActionKick, 0, cmd.args)
}

func (a *Admin) handleMute(ctx context.Context, cmd *command) error {
	if !a.needTarget(ctx, cmd) {
		return nil
	}
	duration, reason, err := parseMuteArgs(cmd.args)
	if err != nil {
		a.reply(ctx, cmd, i18n.Get("Invalid duration, use for example 30m or 2h", cmd.lang))
		return nil
	}
	return a.sanction(ctx, cmd, moderation.ActionMute, duration, reason)
}

// parseMuteArgs reads "[duration] [reason]"; a missing duration means one hour.
func parseMuteArgs(args string) (time.Duration, string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return defaultMute, "", nil
	}
	duration, err := time.ParseDuration(fields[0])
	if err != nil {
		return 0, "", err
	}
	if duration <= 0 {
		return 0, "", fmt.Errorf("non-positive duration %s", duration)
	}
	return duration, strings.Join(fields[1:], " "), nil
}

func (a *Admin) handleUnmute(ctx context.Context, cmd *command) error {
	if !a.needTarget(ctx, cmd) {
		return nil
	}
	if err := a.deps.Members.Unrestrict(ctx, cmd.chat.ID, cmd.target.ID); err != nil {
		if isPrivilegeError(err) {
			a.reply(ctx, cmd, i18n.Get("I lack the admin rights to apply this action, please grant them", cmd.lang))
			return nil
		}
		return err
	}
	a.reply(ctx, cmd, fmt.Sprintf(i18n.Get("%s was unmuted", cmd.lang), mention(cmd.target)))
	return nil
}

func (a *Admin) handleWarn(ctx context.Context, cmd *command) error {
	if !a.needTarget(ctx, cmd) {
		return nil
	}
	score, err := a.deps.Trust.Decrease(ctx, cmd.target.ID)
	if err != nil {
		return err
	}
	a.reply(ctx, cmd, fmt.Sprintf(i18n.Get("%s was warned, trust score is now %d", cmd.lang), mention(cmd.target), score))
	return nil
}

func (a *Admin) handleUnlock(ctx context.Context, cmd *command) error {
	if !a.deps.Engine.Unlock(ctx, cmd.chat.ID) {
		a.reply(ctx, cmd, i18n.Get("There is no active lockdown", cmd.lang))
	}
	return nil
}

func (a *Admin) handleCheck(ctx context.Context, cmd *command) error {
	if !a.needTarget(ctx, cmd) {
		return nil
	}
	text := bot.ExtractText(cmd.msg.ReplyToMessage)
	if text == "" {
		a.reply(ctx, cmd, i18n.Get("There is no text to check", cmd.lang))
		return nil
	}
	c := a.deps.Judge.Classify(ctx, text)
	a.reply(ctx, cmd, fmt.Sprintf(i18n.Get("Risk: %s, category: %s, reason: %s", cmd.lang), c.Risk, c.Category, c.Reason))
	return nil
}

func (a *Admin) handleTrust(ctx context.Context, cmd *command) error {
	who := cmd.user
	if cmd.target != nil {
		who = cmd.target
	}
	score, err := a.deps.Trust.Get(ctx, who.ID)
	if err != nil {
		return err
	}
	a.reply(ctx, cmd, fmt.Sprintf(i18n.Get("Trust score of %s: %d", cmd.lang), mention(who), score))
	return nil
}

func (a *Admin) handleSetLog(ctx context.Context, cmd *command) error {
	var channelID int64
	if cmd.args != "off" {
		id, err := strconv.ParseInt(cmd.args, 10, 64)
		if err != nil || id == 0 {
			a.reply(ctx, cmd, fmt.Sprintf(i18n.Get("Usage: %s", cmd.lang), "/setlog <chat id>|off"))
			return nil
		}
		channelID = id
	}
	err := a.updateSettings(ctx, cmd, func(s *db.Settings) { s.LogChannelID = channelID })
	if err != nil {
		return err
	}
	if channelID == 0 {
		a.reply(ctx, cmd, i18n.Get("Log channel disabled", cmd.lang))
		return nil
	}
	a.reply(ctx, cmd, fmt.Sprintf(i18n.Get("Log channel set to %d", cmd.lang), channelID))
	return nil
}

func (a *Admin) handleSetWelcome(ctx context.Context, cmd *command) error {
	if err := a.updateSettings(ctx, cmd, func(s *db.Settings) { s.WelcomeText = cmd.args }); err != nil {
		return err
	}
	if cmd.args == "" {
		a.reply(ctx, cmd, i18n.Get("Welcome text reset to default", cmd.lang))
		return nil
	}
	a.reply(ctx, cmd, i18n.Get("Welcome text updated", cmd.lang))
	return nil
}

func (a *Admin) handleCaptcha(ctx context.Context, cmd *command) error {
	var enabled bool
	switch strings.ToLower(cmd.args) {
	case "on":
		enabled = true
	case "off":
	default:
		a.reply(ctx, cmd, fmt.Sprintf(i18n.Get("Usage: %s", cmd.lang), "/captcha on|off"))
		return nil
	}
	if err := a.updateSettings(ctx, cmd, func(s *db.Settings) { s.CaptchaEnabled = enabled }); err != nil {
		return err
	}
	if enabled {
		a.reply(ctx, cmd, i18n.Get("Captcha enabled", cmd.lang))
	} else {
		a.reply(ctx, cmd, i18n.Get("Captcha disabled", cmd.lang))
	}
	return nil
}

func (a *Admin) handleLang(ctx context.Context, cmd *command) error {
	code := strings.ToLower(cmd.args)
	if !i18n.IsSupported(code) {
		languages := i18n.SupportedLanguages()
		sort.Strings(languages)
		a.reply(ctx, cmd, i18n.Get("You should use one of the following options", cmd.lang)+": "+strings.Join(languages, ", "))
		return nil
	}
	if err := a.updateSettings(ctx, cmd, func(s *db.Settings) { s.Language = code }); err != nil {
		return err
	}
	a.reply(ctx, cmd, fmt.Sprintf(i18n.Get("Language set to %s", code), i18n.GetLanguageName(code)))
	return nil
}

func (a *Admin) handleAuth(ctx context.Context, cmd *command) error {
	if !a.needTarget(ctx, cmd) {
		return nil
	}
	if err := a.deps.Store.AddAuthorizedAdmin(ctx, cmd.target.ID, cmd.user.ID); err != nil {
		return err
	}
	a.reply(ctx, cmd, fmt.Sprintf(i18n.Get("%s is now an authorized admin", cmd.lang), mention(cmd.target)))
	return nil
}

func (a *Admin) handleUnauth(ctx context.Context, cmd *command) error {
	if !a.needTarget(ctx, cmd) {
		return nil
	}
	if err := a.deps.Store.RemoveAuthorizedAdmin(ctx, cmd.target.ID); err != nil {
		return err
	}
	a.reply(ctx, cmd, fmt.Sprintf(i18n.Get("%s is no longer an authorized admin", cmd.lang), mention(cmd.target)))
	return nil
}

func mention(user *api.User) string {
	if user.UserName != "" {
		return "@" + user.UserName
	}
	if name := bot.GetFullName(user); name != "" {
		return name
	}
	return strconv.FormatInt(user.ID, 10)
}

func isPrivilegeError(err error) bool {
	return errors.Is(err, verrors.ErrNoPrivileges)
}
