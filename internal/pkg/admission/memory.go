package admission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger keeps reservations in process. It serializes one instance
// only; deployments with several instances need RedisLedger.
type MemoryLedger struct {
	mu    sync.Mutex
	now   func() time.Time
	holds map[string]map[string]time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{now: time.Now, holds: map[string]map[string]time.Time{}}
}

// WithClock swaps the time source, for tests.
func (m *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	m.now = now
	return m
}

// live drops expired holds and returns the remaining ones. Caller holds mu.
func (m *MemoryLedger) live(track string) map[string]time.Time {
	h := m.holds[track]
	if h == nil {
		h = map[string]time.Time{}
		m.holds[track] = h
	}
	now := m.now()
	for token, exp := range h {
		if !exp.After(now) {
			delete(h, token)
		}
	}
	return h
}

func (m *MemoryLedger) Reserve(ctx context.Context, track string, active, limit int, ttl time.Duration) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.live(track)
	used := active + len(h)
	if used >= limit {
		return Reservation{}, &FullError{Track: track, Used: clampUsed(used, limit), Cap: limit}
	}

	r := Reservation{Track: track, Token: uuid.NewString(), ExpiresAt: m.now().Add(ttl)}
	h[r.Token] = r.ExpiresAt
	return r, nil
}

func (m *MemoryLedger) Confirm(ctx context.Context, track, token string, grace time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.live(track)
	if _, ok := h[token]; ok {
		h[token] = m.now().Add(grace)
	}
	return nil
}

func (m *MemoryLedger) Release(ctx context.Context, track, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.live(track), token)
	return nil
}

func (m *MemoryLedger) Pending(ctx context.Context, track string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.live(track)), nil
}
