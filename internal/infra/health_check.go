package infra

import (
	"context"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultCheckInterval = 5 * time.Second

// ExecutableMonitor calls OnChange once when the watched file's modification time changes,
// which is how a redeployed binary asks the running process to restart.
type ExecutableMonitor struct {
	Path     string
	Interval time.Duration
	OnChange func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewExecutableMonitor(onChange func()) *ExecutableMonitor {
	return &ExecutableMonitor{OnChange: onChange}
}

func (m *ExecutableMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	filename := m.Path
	if filename == "" {
		exe, err := os.Executable()
		if err != nil {
			log.WithField("error", err.Error()).Warn("cant resolve executable path for monitor")
			return nil
		}
		filename = exe
	}
	stat, err := os.Stat(filename)
	if err != nil {
		log.WithField("error", err.Error()).Warn("cant stat executable for monitor")
		return nil
	}
	interval := m.Interval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true
	go m.watch(runCtx, filename, stat.ModTime(), interval, m.done)
	return nil
}

func (m *ExecutableMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (m *ExecutableMonitor) watch(ctx context.Context, filename string, original time.Time, interval time.Duration, done chan struct{}) {
	defer close(done)
	entry := log.WithField("object", "ExecutableMonitor").WithField("path", filename)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat, err := os.Stat(filename)
			if err != nil {
				entry.WithField("error", err.Error()).Warn("cant stat executable for monitor tick")
				continue
			}
			if !original.Equal(stat.ModTime()) {
				entry.Info("executable changed")
				if m.OnChange != nil {
					m.OnChange()
				}
				return
			}
		}
	}
}
