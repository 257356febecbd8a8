// Package moderation decides what happens to every inbound message and group join:
// flood limiting, heuristic screening, trust bookkeeping, oracle classification,
// raid lockdown and the join captcha.
package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/velzar/velzar/internal/db"
	"github.com/velzar/velzar/internal/deferred"
)

var (
	ErrNotChallenged    = errors.New("no pending verification")
	ErrForeignRequester = errors.New("verification requested by another user")
)

// Actor is a user as seen inside one chat.
type Actor struct {
	ChatID int64
	UserID int64
}

type MemberStatus string

const (
	MemberCreator       MemberStatus = "creator"
	MemberAdministrator MemberStatus = "administrator"
	MemberMember        MemberStatus = "member"
	MemberRestricted    MemberStatus = "restricted"
	MemberLeft          MemberStatus = "left"
	MemberKicked        MemberStatus = "kicked"
)

type Button struct {
	Text string
	Data string
}

type OutgoingMessage struct {
	ChatID  int64
	Text    string
	ReplyTo int
	Buttons []Button
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// ChatClient is the chat platform as the engine needs it. A zero until means indefinitely.
// Implementations return errors wrapping internal/errors.ErrNoPrivileges when the bot lacks rights.
type ChatClient interface {
	Restrict(ctx context.Context, chatID, userID int64, until time.Time) error
	Unrestrict(ctx context.Context, chatID, userID int64) error
	Ban(ctx context.Context, chatID, userID int64, until time.Time) error
	Unban(ctx context.Context, chatID, userID int64) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	Send(ctx context.Context, msg OutgoingMessage) (MessageRef, error)
	MemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context, chatID int64) (*db.Settings, error)
}

type BanLog interface {
	AddBanLog(ctx context.Context, entry *db.BanLogEntry) error
}

type AdminDirectory interface {
	IsAuthorizedAdmin(ctx context.Context, userID int64) (bool, error)
}

// Store is the persistence the engine consumes.
type Store interface {
	TrustStore
	SettingsStore
	BanLog
	AdminDirectory
}

type Scheduler interface {
	After(delay time.Duration, task func(ctx context.Context)) deferred.CancelFunc
}

type Classifier interface {
	Classify(ctx context.Context, text string) Classification
}

type Action string

const (
	ActionAllow   Action = "allow"
	ActionBlocked Action = "blocked"
	ActionWarn    Action = "warn"
	ActionMute    Action = "mute"
	ActionBan     Action = "ban"
	ActionKick    Action = "kick"
	ActionUnmute  Action = "unmute"

	ActionLockdown Action = "lockdown"
	ActionUnlock   Action = "unlock"
)

type Layer string

const (
	LayerNone      Layer = "none"
	LayerImmunity  Layer = "immunity"
	LayerFlood     Layer = "flood"
	LayerJailbreak Layer = "jailbreak"
	LayerTrust     Layer = "trust"
	LayerJudge     Layer = "judge"
)

type Message struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	// Text is empty for media without a caption; only the flood layer applies then.
	Text string
	// Edited marks a changed message. Edits are screened but do not count toward flood.
	Edited bool
}

func (m Message) Actor() Actor {
	return Actor{ChatID: m.ChatID, UserID: m.UserID}
}

type Verdict struct {
	Action         Action
	Layer          Layer
	Reason         string
	Rule           string
	Classification *Classification
}

func (v Verdict) Allowed() bool {
	return v.Action == ActionAllow
}

type Join struct {
	ChatID int64
	UserID int64
	Name   string
	IsBot  bool
}

type JoinOutcome string

const (
	JoinIgnored    JoinOutcome = "ignored"
	JoinAllowed    JoinOutcome = "allowed"
	JoinRestricted JoinOutcome = "restricted"
	JoinChallenged JoinOutcome = "challenged"
	JoinFailed     JoinOutcome = "failed"
)

// AuditRecord is one human-readable entry for the operator log channel.
type AuditRecord struct {
	ChatID   int64
	UserID   int64
	Username string
	Action   Action
	Reason   string
	AdminID  int64
}
