package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/velzar/velzar/internal/config"
	"github.com/velzar/velzar/internal/db"
	verrors "github.com/velzar/velzar/internal/errors"
	"github.com/velzar/velzar/internal/i18n"
	"github.com/velzar/velzar/internal/observability"
)

const sweepInterval = time.Minute

type Deps struct {
	Chat      ChatClient
	Store     Store
	Judge     Classifier
	Scheduler Scheduler
	// Filter defaults to DefaultHeuristicFilter.
	Filter *HeuristicFilter
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs the layered message pipeline and the join flow. It is shared by all chats.
type Engine struct {
	cfg     config.Moderation
	ownerID int64

	chat     ChatClient
	store    Store
	judge    Classifier
	filter   *HeuristicFilter
	rates    *RateWindow
	raids    *RaidDetector
	trust    *TrustLedger
	notifier *Notifier
	captcha  *CaptchaFlow
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *log.Entry
}

func NewEngine(cfg config.Moderation, ownerID int64, deps Deps) *Engine {
	if deps.Filter == nil {
		deps.Filter = DefaultHeuristicFilter()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	notifier := NewNotifier(deps.Chat, deps.Scheduler, deps.Store, cfg.NoticeTTL)
	return &Engine{
		cfg:      cfg,
		ownerID:  ownerID,
		chat:     deps.Chat,
		store:    deps.Store,
		judge:    deps.Judge,
		filter:   deps.Filter,
		rates:    NewRateWindow(cfg.FloodMaxEvents, cfg.FloodWindow),
		raids:    NewRaidDetector(cfg.RaidThreshold, cfg.RaidWindow, cfg.LockdownDuration),
		trust:    NewTrustLedger(deps.Store),
		notifier: notifier,
		captcha:  NewCaptchaFlow(deps.Chat, deps.Scheduler, notifier, cfg.CaptchaTimeout, deps.Now),
		now:      deps.Now,
		logger:   log.WithField("object", "Engine"),
	}
}

func (e *Engine) Trust() *TrustLedger {
	return e.trust
}

func (e *Engine) Notifier() *Notifier {
	return e.notifier
}

// EvaluateMessage decides what happens to msg. Layers run in a fixed order and the first
// violation short-circuits. It never fails: collaborator errors are logged and swallowed.
func (e *Engine) EvaluateMessage(ctx context.Context, msg Message) Verdict {
	started := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "EvaluateMessage")
	defer span.End()

	verdict := e.evaluate(ctx, msg)

	observability.RecordVerdict(string(verdict.Action), string(verdict.Layer))
	observability.ObserveEvaluation(string(verdict.Action), time.Since(started))
	span.SetAttributes(
		attribute.Int64("chat_id", msg.ChatID),
		attribute.String("action", string(verdict.Action)),
		attribute.String("layer", string(verdict.Layer)),
	)
	return verdict
}

func (e *Engine) evaluate(ctx context.Context, msg Message) Verdict {
	if e.isImmune(ctx, msg.ChatID, msg.UserID) {
		return Verdict{Action: ActionAllow, Layer: LayerImmunity}
	}

	if !msg.Edited && e.rates.Record(msg.Actor(), e.now()) {
		e.sanction(ctx, Sanction{
			ChatID:    msg.ChatID,
			UserID:    msg.UserID,
			Username:  msg.Username,
			MessageID: msg.MessageID,
			Action:    ActionMute,
			Duration:  e.cfg.FloodMute,
			Reason:    "flood",
		})
		return Verdict{Action: ActionMute, Layer: LayerFlood, Reason: "flood"}
	}

	match, ok := e.filter.Matches(msg.Text)
	if !ok {
		return Verdict{Action: ActionAllow, Layer: LayerNone}
	}
	if match.Kind == RuleJailbreak {
		lang := e.notifier.Settings(ctx, msg.ChatID).Language
		e.notifier.Ephemeral(ctx, msg.ChatID, i18n.Get("Security notice: this request was rejected.", lang))
		return Verdict{Action: ActionBlocked, Layer: LayerJailbreak, Reason: "jailbreak attempt", Rule: match.Rule}
	}

	entry := e.logger.WithFields(log.Fields{"chat_id": msg.ChatID, "user_id": msg.UserID, "rule": match.Rule})
	score, err := e.trust.Get(ctx, msg.UserID)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant read trust, treating as untrusted")
		score = 0
	}
	if score >= e.cfg.TrustBypass {
		e.increaseTrust(ctx, msg.UserID)
		return Verdict{Action: ActionAllow, Layer: LayerTrust, Rule: match.Rule, Reason: "trusted"}
	}

	judgeCtx, cancel := context.WithTimeout(ctx, e.cfg.JudgeTimeout)
	classification := e.judge.Classify(judgeCtx, msg.Text)
	cancel()

	verdict := Verdict{Layer: LayerJudge, Rule: match.Rule, Reason: classification.Reason, Classification: &classification}
	switch classification.Risk {
	case RiskHigh:
		verdict.Action = ActionBan
	case RiskMed:
		verdict.Action = ActionMute
	default:
		e.increaseTrust(ctx, msg.UserID)
		verdict.Action = ActionAllow
		return verdict
	}

	entry.WithFields(log.Fields{
		"risk":     classification.Risk,
		"category": classification.Category,
	}).Info("oracle flagged message")
	e.sanction(ctx, Sanction{
		ChatID:    msg.ChatID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		MessageID: msg.MessageID,
		Action:    verdict.Action,
		Duration:  e.cfg.MedRiskMute,
		Reason:    classification.Category + ": " + classification.Reason,
	})
	return verdict
}

func (e *Engine) increaseTrust(ctx context.Context, userID int64) {
	if _, err := e.trust.Increase(ctx, userID); err != nil {
		e.logger.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).Warn("cant increase trust")
	}
}

// isImmune reports whether the sender is the owner, an authorized admin or a chat administrator.
func (e *Engine) isImmune(ctx context.Context, chatID, userID int64) bool {
	if e.ownerID != 0 && userID == e.ownerID {
		return true
	}
	entry := e.logger.WithFields(log.Fields{"chat_id": chatID, "user_id": userID})
	authorized, err := e.store.IsAuthorizedAdmin(ctx, userID)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant check authorized admins")
	}
	if authorized {
		return true
	}
	status, err := e.chat.MemberStatus(ctx, chatID, userID)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant fetch member status")
		return false
	}
	return status == MemberCreator || status == MemberAdministrator
}

// Sanction is a punishment applied to a member, by the pipeline or by an admin.
type Sanction struct {
	ChatID   int64
	UserID   int64
	Username string
	// MessageID is the offending message, deleted best-effort when set.
	MessageID int
	AdminID   int64
	// Action is one of ActionBan, ActionMute, ActionKick.
	Action Action
	// Duration bounds a mute; zero mutes indefinitely.
	Duration time.Duration
	Reason   string
}

// Sanction resets the member's trust and applies s. Only the dispatch error is returned;
// deletion, ban log and audit failures are logged.
func (e *Engine) Sanction(ctx context.Context, s Sanction) error {
	return e.sanction(ctx, s)
}

func (e *Engine) sanction(ctx context.Context, s Sanction) error {
	entry := e.logger.WithFields(log.Fields{
		"chat_id": s.ChatID,
		"user_id": s.UserID,
		"action":  s.Action,
	})
	if err := e.trust.Reset(ctx, s.UserID); err != nil {
		entry.WithField("error", err.Error()).Warn("cant reset trust")
	}

	settings := e.notifier.Settings(ctx, s.ChatID)
	err := e.dispatch(ctx, s)
	if err != nil {
		entry.WithField("error", err.Error()).Error("cant apply sanction")
		if errors.Is(err, verrors.ErrNoPrivileges) {
			e.notifier.OperatorError(ctx, s.ChatID, settings.Language, s.Action)
		}
	}

	if s.MessageID != 0 {
		if derr := e.chat.DeleteMessage(ctx, s.ChatID, s.MessageID); derr != nil {
			entry.WithField("error", derr.Error()).Warn("cant delete offending message")
		}
	}
	if lerr := e.store.AddBanLog(ctx, &db.BanLogEntry{
		UserID:  s.UserID,
		ChatID:  s.ChatID,
		AdminID: s.AdminID,
		Action:  banLogAction(s.Action),
		Reason:  s.Reason,
	}); lerr != nil {
		entry.WithField("error", lerr.Error()).Warn("cant write ban log")
	}
	e.notifier.Audit(ctx, AuditRecord{
		ChatID:   s.ChatID,
		UserID:   s.UserID,
		Username: s.Username,
		Action:   s.Action,
		Reason:   s.Reason,
		AdminID:  s.AdminID,
	})
	if err == nil {
		e.notifier.Ephemeral(ctx, s.ChatID, e.sanctionNotice(s, settings.Language))
	}
	return err
}

func (e *Engine) dispatch(ctx context.Context, s Sanction) error {
	switch s.Action {
	case ActionBan:
		return e.chat.Ban(ctx, s.ChatID, s.UserID, time.Time{})
	case ActionMute:
		var until time.Time
		if s.Duration > 0 {
			until = e.now().Add(s.Duration)
		}
		return e.chat.Restrict(ctx, s.ChatID, s.UserID, until)
	case ActionKick:
		if err := e.chat.Ban(ctx, s.ChatID, s.UserID, time.Time{}); err != nil {
			return err
		}
		return e.chat.Unban(ctx, s.ChatID, s.UserID)
	default:
		return fmt.Errorf("unsupported sanction %q: %w", s.Action, verrors.ErrInvalidInput)
	}
}

func (e *Engine) sanctionNotice(s Sanction, lang string) string {
	who := displayName(s.Username, s.UserID)
	switch s.Action {
	case ActionBan:
		return fmt.Sprintf(i18n.Get("%s was banned: %s", lang), who, s.Reason)
	case ActionKick:
		return fmt.Sprintf(i18n.Get("%s was kicked: %s", lang), who, s.Reason)
	default:
		return fmt.Sprintf(i18n.Get("%s was muted: %s", lang), who, s.Reason)
	}
}

func banLogAction(action Action) string {
	switch action {
	case ActionMute:
		return db.ActionMute
	case ActionKick:
		return db.ActionKick
	default:
		return db.ActionBan
	}
}

func displayName(username string, userID int64) string {
	if username != "" {
		return "@" + username
	}
	return strconv.FormatInt(userID, 10)
}

// EvaluateJoin runs a newcomer through the raid detector and then the captcha.
func (e *Engine) EvaluateJoin(ctx context.Context, j Join) JoinOutcome {
	if j.IsBot {
		return JoinIgnored
	}
	entry := e.logger.WithFields(log.Fields{"chat_id": j.ChatID, "user_id": j.UserID})
	settings := e.notifier.Settings(ctx, j.ChatID)
	lang := settings.Language

	obs := e.raids.RecordJoin(j.ChatID, e.now())
	if obs.Deactivated {
		e.notifier.Send(ctx, j.ChatID, i18n.Get("Lockdown lifted, new members are verified again.", lang))
		e.notifier.Audit(ctx, AuditRecord{ChatID: j.ChatID, Action: ActionUnlock, Reason: "lockdown expired"})
	}
	if obs.Activated {
		observability.RecordLockdown()
		entry.WithField("joins", obs.Joins).Warn("raid detected, lockdown engaged")
		e.notifier.Send(ctx, j.ChatID, fmt.Sprintf(
			i18n.Get("Raid detected: new members are muted for %d minutes.", lang),
			int(e.cfg.LockdownDuration.Minutes()),
		))
		e.notifier.Audit(ctx, AuditRecord{
			ChatID: j.ChatID,
			Action: ActionLockdown,
			Reason: fmt.Sprintf("%d joins within %s", obs.Joins, e.cfg.RaidWindow),
		})
	}

	if obs.Lockdown {
		if err := e.chat.Restrict(ctx, j.ChatID, j.UserID, time.Time{}); err != nil {
			entry.WithField("error", err.Error()).Error("cant restrict newcomer during lockdown")
			if errors.Is(err, verrors.ErrNoPrivileges) {
				e.notifier.OperatorError(ctx, j.ChatID, lang, ActionMute)
			}
			return JoinFailed
		}
		return JoinRestricted
	}

	if !settings.CaptchaEnabled {
		return JoinAllowed
	}
	if err := e.captcha.Start(ctx, Actor{ChatID: j.ChatID, UserID: j.UserID}, Challenge{
		Name:    j.Name,
		Welcome: settings.WelcomeText,
		Lang:    lang,
	}); err != nil {
		entry.WithField("error", err.Error()).Error("cant start captcha")
		return JoinFailed
	}
	return JoinChallenged
}

// Verify resolves the captcha of userID in chatID on behalf of requesterID.
func (e *Engine) Verify(ctx context.Context, chatID, userID, requesterID int64) error {
	return e.captcha.Verify(ctx, Actor{ChatID: chatID, UserID: userID}, requesterID)
}

// Unlock lifts a lockdown immediately and reports whether one was active.
func (e *Engine) Unlock(ctx context.Context, chatID int64) bool {
	if !e.raids.Unlock(chatID) {
		return false
	}
	lang := e.notifier.Settings(ctx, chatID).Language
	e.notifier.Send(ctx, chatID, i18n.Get("Lockdown lifted, new members are verified again.", lang))
	e.notifier.Audit(ctx, AuditRecord{ChatID: chatID, Action: ActionUnlock, Reason: "manual unlock"})
	return true
}

func (e *Engine) Lockdown(chatID int64) LockdownStatus {
	return e.raids.Status(chatID, e.now())
}

func (e *Engine) Audit(ctx context.Context, rec AuditRecord) {
	e.notifier.Audit(ctx, rec)
}

// Start launches the janitor that forgets idle rate and join logs.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				now := e.now()
				dropped := e.rates.Sweep(now)
				e.raids.Sweep(now)
				if dropped > 0 {
					e.logger.WithField("dropped", dropped).Trace("swept rate windows")
				}
			}
		}
	}()
	return nil
}

// Stop ends the janitor and drops pending captchas; their members stay restricted.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	e.captcha.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.wg.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
