package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iamwavecut/tool"
	"github.com/pborman/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"

	"github.com/velzar/velzar/internal/deferred"
	verrors "github.com/velzar/velzar/internal/errors"
	"github.com/velzar/velzar/internal/i18n"
	"github.com/velzar/velzar/internal/observability"
)

const verifyCallbackPrefix = "vz_verify:"

// VerifyCallbackData is the button payload that verifies userID.
func VerifyCallbackData(userID int64) string {
	return verifyCallbackPrefix + strconv.FormatInt(userID, 10)
}

// ParseVerifyCallback extracts the challenged user from a verify button payload.
func ParseVerifyCallback(data string) (int64, bool) {
	raw, ok := strings.CutPrefix(data, verifyCallbackPrefix)
	if !ok {
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return userID, true
}

type pendingVerification struct {
	token     string
	createdAt time.Time
	deadline  time.Time
	message   MessageRef
	cancel    deferred.CancelFunc
}

// Challenge carries what the captcha message is rendered from.
type Challenge struct {
	Name    string
	Welcome string
	Lang    string
}

// CaptchaFlow holds newcomers restricted until they press the verify button or the deadline
// removes them. Verification and expiry race through a per-actor Compute, so exactly one wins.
type CaptchaFlow struct {
	chat      ChatClient
	scheduler Scheduler
	notifier  *Notifier
	timeout   time.Duration
	now       func() time.Time
	pending   *xsync.MapOf[Actor, *pendingVerification]
	logger    *log.Entry
}

func NewCaptchaFlow(chat ChatClient, scheduler Scheduler, notifier *Notifier, timeout time.Duration, now func() time.Time) *CaptchaFlow {
	if now == nil {
		now = time.Now
	}
	return &CaptchaFlow{
		chat:      chat,
		scheduler: scheduler,
		notifier:  notifier,
		timeout:   timeout,
		now:       now,
		pending:   xsync.NewMapOf[Actor, *pendingVerification](),
		logger:    log.WithField("object", "CaptchaFlow"),
	}
}

func (c *CaptchaFlow) Start(ctx context.Context, actor Actor, ch Challenge) error {
	entry := c.logger.WithFields(log.Fields{"chat_id": actor.ChatID, "user_id": actor.UserID})

	if err := c.chat.Restrict(ctx, actor.ChatID, actor.UserID, time.Time{}); err != nil {
		if errors.Is(err, verrors.ErrNoPrivileges) {
			c.notifier.OperatorError(ctx, actor.ChatID, ch.Lang, ActionMute)
		}
		return fmt.Errorf("restrict newcomer: %w", err)
	}

	ref, err := c.chat.Send(ctx, OutgoingMessage{
		ChatID:  actor.ChatID,
		Text:    c.challengeText(ch),
		Buttons: []Button{{Text: "✅ " + i18n.Get("I am human", ch.Lang), Data: VerifyCallbackData(actor.UserID)}},
	})
	if err != nil {
		if uerr := c.chat.Unrestrict(ctx, actor.ChatID, actor.UserID); uerr != nil {
			entry.WithField("error", uerr.Error()).Error("cant lift restriction after failed challenge")
		}
		return fmt.Errorf("send challenge: %w", err)
	}

	now := c.now()
	token := uuid.New()
	var previous *pendingVerification
	c.pending.Compute(actor, func(old *pendingVerification, loaded bool) (*pendingVerification, bool) {
		if loaded {
			previous = old
		}
		return &pendingVerification{
			token:     token,
			createdAt: now,
			deadline:  now.Add(c.timeout),
			message:   ref,
			cancel: c.scheduler.After(c.timeout, func(taskCtx context.Context) {
				c.expire(taskCtx, actor, token, ch.Lang)
			}),
		}, false
	})

	if previous != nil {
		previous.cancel()
		c.deleteMessage(ctx, previous.message)
		entry.Debug("replaced pending verification")
	}
	observability.RecordCaptchaOutcome("challenged")
	return nil
}

func (c *CaptchaFlow) challengeText(ch Challenge) string {
	greeting := fmt.Sprintf(i18n.Get("Welcome, %s!", ch.Lang), ch.Name)
	if ch.Welcome != "" {
		greeting = tool.ExecTemplate(ch.Welcome, map[string]any{"name": ch.Name})
	}
	prompt := fmt.Sprintf(i18n.Get("Press the button below within %d seconds to prove you are human.", ch.Lang), int(c.timeout.Seconds()))
	return greeting + "\n\n" + prompt
}

// Verify completes the challenge for actor. Only the challenged user may verify.
func (c *CaptchaFlow) Verify(ctx context.Context, actor Actor, requesterID int64) error {
	if requesterID != actor.UserID {
		return ErrForeignRequester
	}
	pv := c.take(actor, "")
	if pv == nil {
		return ErrNotChallenged
	}
	pv.cancel()

	entry := c.logger.WithFields(log.Fields{"chat_id": actor.ChatID, "user_id": actor.UserID})
	if err := c.chat.Unrestrict(ctx, actor.ChatID, actor.UserID); err != nil {
		entry.WithField("error", err.Error()).Error("cant lift restriction of verified user")
	}
	c.deleteMessage(ctx, pv.message)

	lang := c.notifier.Settings(ctx, actor.ChatID).Language
	c.notifier.Ephemeral(ctx, actor.ChatID, i18n.Get("Verified, welcome!", lang))
	observability.RecordCaptchaOutcome("verified")
	entry.Info("newcomer verified")
	return nil
}

// IsPending reports whether actor still has an open challenge.
func (c *CaptchaFlow) IsPending(actor Actor) bool {
	_, ok := c.pending.Load(actor)
	return ok
}

// Stop drops every pending challenge and cancels its deadline.
func (c *CaptchaFlow) Stop() {
	c.pending.Range(func(actor Actor, _ *pendingVerification) bool {
		if pv := c.take(actor, ""); pv != nil {
			pv.cancel()
		}
		return true
	})
}

func (c *CaptchaFlow) expire(ctx context.Context, actor Actor, token, lang string) {
	pv := c.take(actor, token)
	if pv == nil {
		return
	}
	entry := c.logger.WithFields(log.Fields{"chat_id": actor.ChatID, "user_id": actor.UserID})

	if err := c.chat.Ban(ctx, actor.ChatID, actor.UserID, time.Time{}); err != nil {
		entry.WithField("error", err.Error()).Error("cant remove unverified user")
		if errors.Is(err, verrors.ErrNoPrivileges) {
			c.notifier.OperatorError(ctx, actor.ChatID, lang, ActionKick)
		}
	} else if err := c.chat.Unban(ctx, actor.ChatID, actor.UserID); err != nil {
		entry.WithField("error", err.Error()).Warn("cant unban kicked user")
	}
	c.deleteMessage(ctx, pv.message)

	c.notifier.Ephemeral(ctx, actor.ChatID, i18n.Get("A newcomer did not pass verification and was removed.", lang))
	c.notifier.Audit(ctx, AuditRecord{
		ChatID: actor.ChatID,
		UserID: actor.UserID,
		Action: ActionKick,
		Reason: "captcha timeout",
	})
	observability.RecordCaptchaOutcome("kicked")
	entry.Info("unverified newcomer removed")
}

// take removes and returns the pending entry of actor. A non-empty token only removes the
// entry it identifies, so a superseded deadline is a no-op.
func (c *CaptchaFlow) take(actor Actor, token string) *pendingVerification {
	var taken *pendingVerification
	c.pending.Compute(actor, func(old *pendingVerification, loaded bool) (*pendingVerification, bool) {
		if !loaded {
			return nil, true
		}
		if token != "" && old.token != token {
			return old, false
		}
		taken = old
		return nil, true
	})
	return taken
}

func (c *CaptchaFlow) deleteMessage(ctx context.Context, ref MessageRef) {
	if ref.MessageID == 0 {
		return
	}
	if err := c.chat.DeleteMessage(ctx, ref.ChatID, ref.MessageID); err != nil {
		c.logger.WithField("error", err.Error()).Debug("cant delete challenge message")
	}
}
