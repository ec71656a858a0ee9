package stream

import (
	"sync"
	"time"
)

// mockTimeProvider is a manually advanced clock for deterministic
// delay-gating and timeout tests. Its ticker never fires; tests drive
// dispatch explicitly via DispatchOnce.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTime() *mockTimeProvider {
	return &mockTimeProvider{now: time.UnixMicro(1_000_000_000)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *mockTimeProvider) NowMicros() uint64 {
	return Micros(m.Now())
}

func (m *mockTimeProvider) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(24 * time.Hour)
}
