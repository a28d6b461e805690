// Package settings keeps the detector settings snapshot and fans out changes.
package settings

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"phishguard/core/domain"
	"phishguard/core/port/in"
	"phishguard/core/port/out"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Listener is notified after every effective settings change.
type Listener interface {
	ApplySettings(ctx context.Context, s domain.DetectionSettings)
}

// Service serves the current settings from memory and follows the store.
type Service struct {
	repo    out.DetectionSettingsRepository
	current atomic.Pointer[domain.DetectionSettings]
	flight  singleflight.Group // 동시 reload 통합

	mu        sync.RWMutex
	listeners []Listener

	log zerolog.Logger
}

var _ in.SettingsService = (*Service)(nil)

// NewService creates the service with defaults as the initial snapshot.
func NewService(repo out.DetectionSettingsRepository, defaults domain.DetectionSettings, log zerolog.Logger) *Service {
	s := &Service{repo: repo, log: log.With().Str("component", "settings").Logger()}
	s.current.Store(&defaults)
	return s
}

// AddListener registers l for change notifications.
func (s *Service) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Current returns the settings snapshot.
func (s *Service) Current() domain.DetectionSettings {
	return *s.current.Load()
}

// Reload reads the store. Concurrent calls share one read.
func (s *Service) Reload(ctx context.Context) (domain.DetectionSettings, error) {
	v, err, _ := s.flight.Do("settings", func() (any, error) {
		return s.repo.Get(ctx)
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("settings reload failed, keeping snapshot")
		return s.Current(), err
	}
	next := v.(domain.DetectionSettings)
	s.apply(ctx, next)
	return next, nil
}

// Update merges req into the current settings and saves them.
func (s *Service) Update(ctx context.Context, req *in.UpdateSettingsRequest) (domain.DetectionSettings, error) {
	next := s.Current()
	if req != nil {
		if req.Enabled != nil {
			next.Enabled = *req.Enabled
		}
		if req.NotificationsEnabled != nil {
			next.NotificationsEnabled = *req.NotificationsEnabled
		}
	}
	next.UpdatedAt = time.Now().UTC()

	if err := s.repo.Save(ctx, next); err != nil {
		return s.Current(), err
	}
	s.apply(ctx, next)
	return next, nil
}

// Run follows the store's change notifications until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ch, err := s.repo.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-ch:
			if !ok {
				return nil
			}
			s.apply(ctx, next)
		}
	}
}

func (s *Service) apply(ctx context.Context, next domain.DetectionSettings) {
	prev := s.current.Swap(&next)
	if prev != nil && prev.Enabled == next.Enabled && prev.NotificationsEnabled == next.NotificationsEnabled {
		return
	}

	s.log.Info().Bool("enabled", next.Enabled).Bool("notifications", next.NotificationsEnabled).Msg("settings changed")

	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l.ApplySettings(ctx, next)
	}
}
