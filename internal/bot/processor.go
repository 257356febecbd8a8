package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// UpdateTimeout is the age past which updates are dropped; after downtime there is no point
// in punishing messages nobody reads anymore.
const UpdateTimeout = 5 * time.Minute

var registry = struct {
	sync.Mutex
	handlers map[string]Handler
}{handlers: map[string]Handler{}}

// RegisterUpdateHandler makes handler available to processors under name.
func RegisterUpdateHandler(name string, handler Handler) {
	registry.Lock()
	defer registry.Unlock()
	registry.handlers[name] = handler
}

type chainLink struct {
	name    string
	handler Handler
}

// UpdateProcessor passes every update through a fixed handler chain until one declines it.
type UpdateProcessor struct {
	s      Service
	chain  []chainLink
	now    func() time.Time
	logger *log.Entry
}

// NewUpdateProcessor chains the registered handlers named in enabled, in that order.
// Unknown names are logged and skipped.
func NewUpdateProcessor(s Service, enabled []string) *UpdateProcessor {
	up := &UpdateProcessor{
		s:      s,
		now:    time.Now,
		logger: log.WithField("object", "UpdateProcessor"),
	}
	registry.Lock()
	defer registry.Unlock()
	for _, name := range enabled {
		handler, ok := registry.handlers[name]
		if !ok || handler == nil {
			up.logger.WithField("handler", name).Warn("no registered handler")
			continue
		}
		up.chain = append(up.chain, chainLink{name: name, handler: handler})
	}
	return up
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}
	if age := up.now().Sub(UpdateTime(u)); age > UpdateTimeout {
		up.logger.WithFields(log.Fields{"update_id": u.UpdateID, "age": age.String()}).Debug("skipping outdated update")
		return nil
	}

	chat, user := u.FromChat(), u.SentFrom()
	for _, link := range up.chain {
		if err := ctx.Err(); err != nil {
			return err
		}
		proceed, err := link.handler.Handle(ctx, u, chat, user)
		if err != nil {
			return errors.Wrapf(err, "handler %s", link.name)
		}
		if !proceed {
			up.logger.WithFields(log.Fields{"update_id": u.UpdateID, "handler": link.name}).Trace("update consumed")
			return nil
		}
	}
	return nil
}

// Dispatch processes updates concurrently, at most workers at a time, until updates is closed or ctx
// is done. It waits for in-flight updates before returning. A panicking update is logged and dropped.
func (up *UpdateProcessor) Dispatch(ctx context.Context, updates <-chan api.Update, workers int) error {
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				up.processRecovering(ctx, &update)
				return nil
			})
		}
	}
}

func (up *UpdateProcessor) processRecovering(ctx context.Context, u *api.Update) {
	defer func() {
		if r := recover(); r != nil {
			up.logger.WithFields(log.Fields{
				"update_id": u.UpdateID,
				"panic":     fmt.Sprint(r),
			}).Error("update panicked")
		}
	}()
	if err := up.Process(ctx, u); err != nil {
		up.logger.WithFields(log.Fields{
			"update_id": u.UpdateID,
			"error":     err.Error(),
		}).Error("cant process update")
	}
}
