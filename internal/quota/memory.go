package quota

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps quota records in process memory. It backs the Keeper's
// degraded mode and carries no durability: a restart forgets every window,
// which is the accepted trade-off while the shared store is down.
type MemoryStore struct {
	allowance int64
	window    time.Duration

	mu      sync.Mutex
	clock   func() time.Time
	records map[string]*memRecord
}

type memRecord struct {
	remaining int64
	expiresAt time.Time
}

func NewMemoryStore(allowance int64, window time.Duration) *MemoryStore {
	return &MemoryStore{
		allowance: allowance,
		window:    window,
		clock:     time.Now,
		records:   make(map[string]*memRecord),
	}
}

// SetClock overrides the time source for window-expiry tests.
func (s *MemoryStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *MemoryStore) TryConsume(ctx context.Context, principal string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	k := strings.ToLower(principal)
	rec, ok := s.records[k]
	if !ok || now.After(rec.expiresAt) {
		rec = &memRecord{remaining: s.allowance - 1, expiresAt: now.Add(s.window)}
		s.records[k] = rec
		return Record{Remaining: rec.remaining, WindowExpiresAt: rec.expiresAt}, true, nil
	}
	if rec.remaining > 0 {
		rec.remaining--
		return Record{Remaining: rec.remaining, WindowExpiresAt: rec.expiresAt}, true, nil
	}
	return Record{Remaining: rec.remaining, WindowExpiresAt: rec.expiresAt}, false, nil
}

func (s *MemoryStore) Remaining(ctx context.Context, principal string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	k := strings.ToLower(principal)
	rec, ok := s.records[k]
	if !ok || now.After(rec.expiresAt) {
		rec = &memRecord{remaining: s.allowance, expiresAt: now.Add(s.window)}
		s.records[k] = rec
	}
	return Record{Remaining: rec.remaining, WindowExpiresAt: rec.expiresAt}, nil
}

func (s *MemoryStore) Reset(ctx context.Context, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.records[strings.ToLower(principal)] = &memRecord{
		remaining: s.allowance,
		expiresAt: now.Add(s.window),
	}
	return nil
}
