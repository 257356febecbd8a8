package moderation

import (
	"context"
	"sync"
)

// TrustStore is the store of record for trust scores.
type TrustStore interface {
	GetTrust(ctx context.Context, userID int64) (int, error)
	IncrementTrust(ctx context.Context, userID int64) (int, error)
	DecrementTrust(ctx context.Context, userID int64) (int, error)
	ResetTrust(ctx context.Context, userID int64) error
}

// TrustLedger reads and writes reputation straight through to its store; it keeps no copy.
type TrustLedger struct {
	store TrustStore
}

func NewTrustLedger(store TrustStore) *TrustLedger {
	return &TrustLedger{store: store}
}

func (l *TrustLedger) Get(ctx context.Context, userID int64) (int, error) {
	return l.store.GetTrust(ctx, userID)
}

func (l *TrustLedger) Increase(ctx context.Context, userID int64) (int, error) {
	return l.store.IncrementTrust(ctx, userID)
}

// Decrease lowers the score by one, never below zero.
func (l *TrustLedger) Decrease(ctx context.Context, userID int64) (int, error) {
	return l.store.DecrementTrust(ctx, userID)
}

func (l *TrustLedger) Reset(ctx context.Context, userID int64) error {
	return l.store.ResetTrust(ctx, userID)
}

// MemTrustStore keeps scores in process memory.
type MemTrustStore struct {
	mu     sync.Mutex
	scores map[int64]int
}

func NewMemTrustStore() *MemTrustStore {
	return &MemTrustStore{scores: make(map[int64]int)}
}

func (s *MemTrustStore) GetTrust(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[userID], nil
}

func (s *MemTrustStore) IncrementTrust(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[userID]++
	return s.scores[userID], nil
}

func (s *MemTrustStore) DecrementTrust(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scores[userID] > 0 {
		s.scores[userID]--
	}
	return s.scores[userID], nil
}

func (s *MemTrustStore) ResetTrust(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scores, userID)
	return nil
}

// Set seeds a score; intended for fixtures.
func (s *MemTrustStore) Set(userID int64, score int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if score < 0 {
		score = 0
	}
	s.scores[userID] = score
}
