package db

import "context"

type Client interface {
	Close() error

	GetOrCreateUser(ctx context.Context, userID int64, username string) (*User, error)
	GetTrust(ctx context.Context, userID int64) (int, error)
	IncrementTrust(ctx context.Context, userID int64) (int, error)
	DecrementTrust(ctx context.Context, userID int64) (int, error)
	ResetTrust(ctx context.Context, userID int64) error

	AddBanLog(ctx context.Context, entry *BanLogEntry) error
	ListBanLog(ctx context.Context, chatID int64, limit int) ([]*BanLogEntry, error)

	GetSettings(ctx context.Context, chatID int64) (*Settings, error)
	SetSettings(ctx context.Context, settings *Settings) error

	ListAuthorizedAdmins(ctx context.Context) ([]int64, error)
	IsAuthorizedAdmin(ctx context.Context, userID int64) (bool, error)
	AddAuthorizedAdmin(ctx context.Context, userID, addedBy int64) error
	RemoveAuthorizedAdmin(ctx context.Context, userID int64) error
}
