package worker

import (
	"context"
	"sync"
	"time"

	"phishguard/core/domain"
	"phishguard/core/port/in"
	"phishguard/pkg/logger"
)

// =============================================================================
// RescanScheduler - 주기적 재검사 스케줄러
// =============================================================================
//
// 관찰된 유닛을 기억해 두었다가 주기적으로 Observe를 다시 호출합니다.
// Completed 유닛은 캐시에서 바로 반환되고, Failed 유닛만 다시 분석됩니다.

const DefaultMaxTracked = 5000

type tracked struct {
	id       domain.ContentIdentity
	fetch    domain.SignalSource
	lastSeen time.Time
}

// RescanScheduler periodically re-observes every tracked unit.
type RescanScheduler struct {
	detection  in.DetectionService
	interval   time.Duration
	maxTracked int

	mu    sync.Mutex
	units map[string]*tracked

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRescanScheduler creates a scheduler. An interval <= 0 disables the loop;
// tracking still works so Sweep can be driven manually.
func NewRescanScheduler(detection in.DetectionService, interval time.Duration, maxTracked int) *RescanScheduler {
	if maxTracked <= 0 {
		maxTracked = DefaultMaxTracked
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RescanScheduler{
		detection:  detection,
		interval:   interval,
		maxTracked: maxTracked,
		units:      make(map[string]*tracked),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Track remembers the latest signal source for id. The least recently seen
// unit is dropped once maxTracked is reached.
func (s *RescanScheduler) Track(id domain.ContentIdentity, fetch domain.SignalSource) {
	if id.IsZero() || fetch == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.units[id.Key]; ok {
		t.fetch = fetch
		t.lastSeen = time.Now()
		return
	}
	if len(s.units) >= s.maxTracked {
		s.evictOldest()
	}
	s.units[id.Key] = &tracked{id: id, fetch: fetch, lastSeen: time.Now()}
}

// Untrack forgets id.
func (s *RescanScheduler) Untrack(id domain.ContentIdentity) {
	s.mu.Lock()
	delete(s.units, id.Key)
	s.mu.Unlock()
}

// Len returns the number of tracked units.
func (s *RescanScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

func (s *RescanScheduler) evictOldest() {
	var oldest *tracked
	for _, t := range s.units {
		if oldest == nil || t.lastSeen.Before(oldest.lastSeen) {
			oldest = t
		}
	}
	if oldest != nil {
		delete(s.units, oldest.id.Key)
	}
}

// Start starts the loop.
func (s *RescanScheduler) Start() {
	if s.interval <= 0 {
		logger.Info("[RescanScheduler] Disabled")
		close(s.done)
		return
	}
	logger.Info("[RescanScheduler] Starting with interval %v", s.interval)
	go s.run()
}

// Stop stops the loop and waits for a running sweep.
func (s *RescanScheduler) Stop() {
	s.cancel()
	<-s.done
	logger.Info("[RescanScheduler] Stopped")
}

func (s *RescanScheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.ctx); n > 0 {
				logger.Debug("[RescanScheduler] Re-analyzed %d units", n)
			}
		}
	}
}

// Sweep re-observes all tracked units once and returns how many were
// actually analyzed (not served from the cache or skipped).
func (s *RescanScheduler) Sweep(ctx context.Context) int {
	s.mu.Lock()
	units := make([]tracked, 0, len(s.units))
	for _, t := range s.units {
		units = append(units, *t)
	}
	s.mu.Unlock()

	analyzed := 0
	for _, t := range units {
		if ctx.Err() != nil {
			break
		}
		res := s.detection.Observe(ctx, t.id, t.fetch)
		switch {
		case res.Status == domain.ObserveCompleted && !res.Cached:
			analyzed++
		case res.Status == domain.ObserveError:
			analyzed++
		}
	}
	return analyzed
}
