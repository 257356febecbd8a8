package db

import "time"

type (
	User struct {
		ID         int64     `db:"id"`
		Username   string    `db:"username"`
		TrustScore int       `db:"trust_score"`
		CreatedAt  time.Time `db:"created_at"`
		UpdatedAt  time.Time `db:"updated_at"`
	}

	BanLogEntry struct {
		ID        int64     `db:"id"`
		UserID    int64     `db:"user_id"`
		ChatID    int64     `db:"chat_id"`
		AdminID   int64     `db:"admin_id"`
		Action    string    `db:"action"`
		Reason    string    `db:"reason"`
		CreatedAt time.Time `db:"created_at"`
	}

	AuthorizedAdmin struct {
		UserID    int64     `db:"user_id"`
		AddedBy   int64     `db:"added_by"`
		CreatedAt time.Time `db:"created_at"`
	}

	Settings struct {
		ID             int64  `db:"id"`
		Enabled        bool   `db:"enabled"`
		Language       string `db:"language"`
		LogChannelID   int64  `db:"log_channel_id"`
		WelcomeText    string `db:"welcome_text"`
		CaptchaEnabled bool   `db:"captcha_enabled"`
	}
)

// Ban log actions.
const (
	ActionBan  = "ban"
	ActionMute = "mute"
	ActionKick = "kick"
)
