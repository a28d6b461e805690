package persistence

import (
	"context"
	"sync"
	"time"

	"phishguard/core/domain"
	"phishguard/core/port/out"
)

// MemorySettingsStore keeps settings in process. Used when no database is configured.
type MemorySettingsStore struct {
	mu       sync.Mutex
	current  domain.DetectionSettings
	watchers map[chan domain.DetectionSettings]struct{}
}

var _ out.DetectionSettingsRepository = (*MemorySettingsStore)(nil)

// NewMemorySettingsStore creates a store holding initial.
func NewMemorySettingsStore(initial domain.DetectionSettings) *MemorySettingsStore {
	return &MemorySettingsStore{
		current:  initial,
		watchers: make(map[chan domain.DetectionSettings]struct{}),
	}
}

func (m *MemorySettingsStore) Get(context.Context) (domain.DetectionSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, nil
}

// Save stores s and delivers it to every subscriber, replacing an undelivered value.
func (m *MemorySettingsStore) Save(_ context.Context, s domain.DetectionSettings) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = s
	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
	return nil
}

func (m *MemorySettingsStore) Subscribe(ctx context.Context) (<-chan domain.DetectionSettings, error) {
	ch := make(chan domain.DetectionSettings, 1)

	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}
