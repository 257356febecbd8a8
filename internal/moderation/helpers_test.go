package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/velzar/velzar/internal/adapters/llm"
	"github.com/velzar/velzar/internal/db"
	"github.com/velzar/velzar/internal/deferred"
)

type chatCall struct {
	Op     string
	ChatID int64
	UserID int64
	Until  time.Time
}

type fakeChat struct {
	mu       sync.Mutex
	nextID   int
	calls    []chatCall
	sent     []OutgoingMessage
	deleted  []MessageRef
	statuses map[Actor]MemberStatus

	restrictErr error
	banErr      error
	sendErr     error
}

func newFakeChat() *fakeChat {
	return &fakeChat{statuses: make(map[Actor]MemberStatus)}
}

func (c *fakeChat) record(op string, chatID, userID int64, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, chatCall{Op: op, ChatID: chatID, UserID: userID, Until: until})
}

func (c *fakeChat) Restrict(_ context.Context, chatID, userID int64, until time.Time) error {
	if c.restrictErr != nil {
		return c.restrictErr
	}
	c.record("restrict", chatID, userID, until)
	return nil
}

func (c *fakeChat) Unrestrict(_ context.Context, chatID, userID int64) error {
	c.record("unrestrict", chatID, userID, time.Time{})
	return nil
}

func (c *fakeChat) Ban(_ context.Context, chatID, userID int64, until time.Time) error {
	if c.banErr != nil {
		return c.banErr
	}
	c.record("ban", chatID, userID, until)
	return nil
}

func (c *fakeChat) Unban(_ context.Context, chatID, userID int64) error {
	c.record("unban", chatID, userID, time.Time{})
	return nil
}

func (c *fakeChat) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, MessageRef{ChatID: chatID, MessageID: messageID})
	return nil
}

func (c *fakeChat) Send(_ context.Context, msg OutgoingMessage) (MessageRef, error) {
	if c.sendErr != nil {
		return MessageRef{}, c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.sent = append(c.sent, msg)
	return MessageRef{ChatID: msg.ChatID, MessageID: c.nextID}, nil
}

func (c *fakeChat) MemberStatus(_ context.Context, chatID, userID int64) (MemberStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status, ok := c.statuses[Actor{ChatID: chatID, UserID: userID}]; ok {
		return status, nil
	}
	return MemberMember, nil
}

func (c *fakeChat) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Op == op {
			n++
		}
	}
	return n
}

func (c *fakeChat) last(op string) (chatCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.calls) - 1; i >= 0; i-- {
		if c.calls[i].Op == op {
			return c.calls[i], true
		}
	}
	return chatCall{}, false
}

func (c *fakeChat) sentTo(chatID int64) []OutgoingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []OutgoingMessage
	for _, msg := range c.sent {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

func (c *fakeChat) wasDeleted(ref MessageRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.deleted {
		if d == ref {
			return true
		}
	}
	return false
}

type manualTask struct {
	delay time.Duration
	run   func(ctx context.Context)
	state atomic.Int32
}

// manualScheduler only runs tasks when the test fires them.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

func (s *manualScheduler) After(delay time.Duration, task func(ctx context.Context)) deferred.CancelFunc {
	t := &manualTask{delay: delay, run: task}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
	return func() bool { return t.state.CompareAndSwap(0, 2) }
}

// fire runs every pending task scheduled with delay and returns how many ran.
func (s *manualScheduler) fire(delay time.Duration) int {
	s.mu.Lock()
	var due []*manualTask
	for _, t := range s.tasks {
		if t.delay == delay {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	ran := 0
	for _, t := range due {
		if t.state.CompareAndSwap(0, 1) {
			t.run(context.Background())
			ran++
		}
	}
	return ran
}

func (s *manualScheduler) pending(delay time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.delay == delay && t.state.Load() == 0 {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memStore struct {
	*MemTrustStore

	mu       sync.Mutex
	settings map[int64]*db.Settings
	banLog   []db.BanLogEntry
	admins   map[int64]bool
}

func newMemStore() *memStore {
	return &memStore{
		MemTrustStore: NewMemTrustStore(),
		settings:      make(map[int64]*db.Settings),
		admins:        make(map[int64]bool),
	}
}

func (s *memStore) GetSettings(_ context.Context, chatID int64) (*db.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings, ok := s.settings[chatID]; ok {
		copied := *settings
		return &copied, nil
	}
	return nil, nil
}

func (s *memStore) AddBanLog(_ context.Context, entry *db.BanLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banLog = append(s.banLog, *entry)
	return nil
}

func (s *memStore) IsAuthorizedAdmin(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admins[userID], nil
}

func (s *memStore) setSettings(settings *db.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.ID] = settings
}

func (s *memStore) bans() []db.BanLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]db.BanLogEntry(nil), s.banLog...)
}

var errTransport = errors.New("connection reset")

// stubLLM answers every request from reply and counts calls.
type stubLLM struct {
	calls atomic.Int32
	mu    sync.Mutex
	reqs  []llm.ChatCompletionRequest
	reply func(req llm.ChatCompletionRequest) (string, error)
}

func replying(content string) *stubLLM {
	return &stubLLM{reply: func(llm.ChatCompletionRequest) (string, error) { return content, nil }}
}

func failing(err error) *stubLLM {
	return &stubLLM{reply: func(llm.ChatCompletionRequest) (string, error) { return "", err }}
}

func (s *stubLLM) ChatCompletion(_ context.Context, req llm.ChatCompletionRequest) (llm.ChatCompletionResponse, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()

	content, err := s.reply(req)
	if err != nil {
		return llm.ChatCompletionResponse{}, err
	}
	return llm.ChatCompletionResponse{
		Model:   req.Model,
		Choices: []llm.ChatCompletionChoice{{Message: llm.ChatCompletionMessage{Role: llm.RoleAssistant, Content: content}}},
	}, nil
}

func (s *stubLLM) models() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.reqs))
	for _, req := range s.reqs {
		out = append(out, req.Model)
	}
	return out
}

func verdictJSON(risk, category string) string {
	return fmt.Sprintf(`{"risk":%q,"category":%q,"reason":"test verdict"}`, risk, category)
}
