package bot

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

// UpdateTime is the send time of the update's message, or now for updates without one.
func UpdateTime(u *api.Update) time.Time {
	var msg *api.Message
	switch {
	case u.Message != nil:
		msg = u.Message
	case u.EditedMessage != nil:
		// an edit is judged by when it was made, not when the original was sent
		if u.EditedMessage.EditDate != 0 {
			return time.Unix(int64(u.EditedMessage.EditDate), 0)
		}
		msg = u.EditedMessage
	default:
		return time.Now()
	}
	return time.Unix(int64(msg.Date), 0)
}

// GetUpdatesChans long-polls updates until ctx ends. The error channel yields the reason
// polling stopped; both channels are closed afterwards.
func GetUpdatesChans(ctx context.Context, bot *api.BotAPI, config api.UpdateConfig) (api.UpdatesChannel, chan error) {
	updates := make(chan api.Update, bot.Buffer)
	errs := make(chan error, 1)

	go func() {
		defer close(updates)
		defer close(errs)
		for ctx.Err() == nil {
			batch, err := bot.GetUpdates(config)
			if err != nil {
				errs <- err
				return
			}
			for _, update := range batch {
				if update.UpdateID < config.Offset {
					continue
				}
				config.Offset = update.UpdateID + 1
				select {
				case updates <- update:
				case <-ctx.Done():
				}
			}
		}
		errs <- ctx.Err()
	}()

	return updates, errs
}

// GetFullName prefers the display name and falls back to the username.
func GetFullName(user *api.User) string {
	if user == nil {
		return ""
	}
	fullName := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if len(fullName) == 0 {
		fullName = user.UserName
	}
	return fullName
}

// ExtractText returns the screenable text of msg: its text or media caption.
func ExtractText(msg *api.Message) string {
	if msg == nil {
		return ""
	}
	return strings.TrimSpace(msg.Text + " " + msg.Caption)
}
