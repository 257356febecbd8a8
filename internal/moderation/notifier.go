package moderation

import (
	"context"
	"time"

	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/velzar/velzar/internal/db"
	"github.com/velzar/velzar/internal/i18n"
)

const auditTemplate = `#{{ .action }} {{ if .username }}@{{ .username }} {{ end }}({{ .user_id }}) in {{ .chat_id }}{{ if .admin_id }} by {{ .admin_id }}{{ end }}
{{ .reason }}`

// Notifier delivers chat notices, operator alerts and audit records. Every failure is logged and swallowed.
type Notifier struct {
	chat      ChatClient
	scheduler Scheduler
	settings  SettingsStore
	ttl       time.Duration
	logger    *log.Entry
}

func NewNotifier(chat ChatClient, scheduler Scheduler, settings SettingsStore, ttl time.Duration) *Notifier {
	return &Notifier{
		chat:      chat,
		scheduler: scheduler,
		settings:  settings,
		ttl:       ttl,
		logger:    log.WithField("object", "Notifier"),
	}
}

// Settings returns the chat settings, falling back to defaults when the store has none.
func (n *Notifier) Settings(ctx context.Context, chatID int64) *db.Settings {
	settings, err := n.settings.GetSettings(ctx, chatID)
	if err != nil {
		n.logger.WithFields(log.Fields{"chat_id": chatID, "error": err.Error()}).Warn("cant load chat settings")
	}
	if settings == nil {
		settings = db.DefaultSettings(chatID)
	}
	return settings
}

// Send posts a message that stays in the chat.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string) {
	if _, err := n.chat.Send(ctx, OutgoingMessage{ChatID: chatID, Text: text}); err != nil {
		n.logger.WithFields(log.Fields{"chat_id": chatID, "error": err.Error()}).Warn("cant send notice")
	}
}

// Ephemeral posts text and schedules its deletion after the notice TTL.
func (n *Notifier) Ephemeral(ctx context.Context, chatID int64, text string) {
	ref, err := n.chat.Send(ctx, OutgoingMessage{ChatID: chatID, Text: text})
	if err != nil {
		n.logger.WithFields(log.Fields{"chat_id": chatID, "error": err.Error()}).Warn("cant send ephemeral notice")
		return
	}
	n.DeleteLater(ref)
}

func (n *Notifier) DeleteLater(ref MessageRef) {
	if ref.MessageID == 0 {
		return
	}
	n.scheduler.After(n.ttl, func(ctx context.Context) {
		if err := n.chat.DeleteMessage(ctx, ref.ChatID, ref.MessageID); err != nil {
			n.logger.WithField("error", err.Error()).Debug("cant delete expired notice")
		}
	})
}

// OperatorError tells the chat the bot lacks rights to carry out a decision that still stands.
func (n *Notifier) OperatorError(ctx context.Context, chatID int64, lang string, action Action) {
	text := i18n.Get("I lack the admin rights to apply this action, please grant them", lang) + " (" + string(action) + ")"
	n.Send(ctx, chatID, text)
}

// Audit forwards a record to the chat's log channel. Without a channel the record is only logged.
func (n *Notifier) Audit(ctx context.Context, rec AuditRecord) {
	entry := n.logger.WithFields(log.Fields{
		"chat_id": rec.ChatID,
		"user_id": rec.UserID,
		"action":  rec.Action,
		"reason":  rec.Reason,
	})
	entry.Info("audit")

	settings := n.Settings(ctx, rec.ChatID)
	if settings.LogChannelID == 0 {
		return
	}
	text := tool.ExecTemplate(auditTemplate, map[string]any{
		"action":   rec.Action,
		"username": rec.Username,
		"user_id":  rec.UserID,
		"chat_id":  rec.ChatID,
		"admin_id": rec.AdminID,
		"reason":   rec.Reason,
	})
	if _, err := n.chat.Send(ctx, OutgoingMessage{ChatID: settings.LogChannelID, Text: text}); err != nil {
		entry.WithField("error", err.Error()).Warn("cant deliver audit record")
	}
}
