package db

import (
	"errors"
)

var ErrNotFound = errors.New("not found")

const DefaultLanguage = "es"

func DefaultSettings(chatID int64) *Settings {
	return &Settings{
		ID:             chatID,
		Enabled:        true,
		Language:       DefaultLanguage,
		CaptchaEnabled: true,
	}
}
