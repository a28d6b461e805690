// Package persistence provides settings storage adapters.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"phishguard/core/domain"
	"phishguard/core/port/out"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// SettingsChannel is the LISTEN/NOTIFY channel raised on every save.
const SettingsChannel = "detection_settings_changed"

const settingsSchema = `
	CREATE TABLE IF NOT EXISTS detection_settings (
		id                    SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		enabled               BOOLEAN NOT NULL DEFAULT TRUE,
		notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// SettingsAdapter implements out.DetectionSettingsRepository on PostgreSQL.
// Reads and writes go through sqlx; change notifications come from a
// lib/pq listener on the raw connection string.
type SettingsAdapter struct {
	db          *sqlx.DB
	listenerDSN string
	defaults    domain.DetectionSettings
	log         zerolog.Logger
}

var _ out.DetectionSettingsRepository = (*SettingsAdapter)(nil)

// NewSettingsAdapter creates the adapter. listenerDSN is a lib/pq compatible URL.
func NewSettingsAdapter(db *sqlx.DB, listenerDSN string, defaults domain.DetectionSettings, log zerolog.Logger) *SettingsAdapter {
	return &SettingsAdapter{
		db:          db,
		listenerDSN: listenerDSN,
		defaults:    defaults,
		log:         log.With().Str("component", "settings_adapter").Logger(),
	}
}

// EnsureSchema creates the settings table when missing.
func (a *SettingsAdapter) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, settingsSchema)
	return err
}

type settingsRow struct {
	Enabled              bool      `db:"enabled"`
	NotificationsEnabled bool      `db:"notifications_enabled"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (r *settingsRow) toDomain() domain.DetectionSettings {
	return domain.DetectionSettings{
		Enabled:              r.Enabled,
		NotificationsEnabled: r.NotificationsEnabled,
		UpdatedAt:            r.UpdatedAt,
	}
}

// Get returns the stored settings, or the defaults when no row exists.
func (a *SettingsAdapter) Get(ctx context.Context) (domain.DetectionSettings, error) {
	const query = `
		SELECT enabled, notifications_enabled, updated_at
		FROM detection_settings
		WHERE id = 1
	`

	var row settingsRow
	if err := a.db.GetContext(ctx, &row, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a.defaults, nil
		}
		return a.defaults, fmt.Errorf("get detection settings: %w", err)
	}
	return row.toDomain(), nil
}

// Save upserts the settings row and notifies listeners in the same transaction.
func (a *SettingsAdapter) Save(ctx context.Context, s domain.DetectionSettings) error {
	const upsert = `
		INSERT INTO detection_settings (id, enabled, notifications_enabled, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			notifications_enabled = EXCLUDED.notifications_enabled,
			updated_at = EXCLUDED.updated_at
	`

	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsert, s.Enabled, s.NotificationsEnabled, s.UpdatedAt); err != nil {
		return fmt.Errorf("save detection settings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, SettingsChannel, string(payload)); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return tx.Commit()
}

// Subscribe listens on SettingsChannel until ctx is done. After a
// reconnect the row is re-read, since notifications may have been missed.
func (a *SettingsAdapter) Subscribe(ctx context.Context) (<-chan domain.DetectionSettings, error) {
	listener := pq.NewListener(a.listenerDSN, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			a.log.Warn().Err(err).Int("event", int(ev)).Msg("settings listener event")
		}
	})
	if err := listener.Listen(SettingsChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", SettingsChannel, err)
	}

	ch := make(chan domain.DetectionSettings, 1)
	go func() {
		defer close(ch)
		defer listener.Close()

		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				s, ok := a.decode(ctx, n)
				if !ok {
					continue
				}
				select {
				case ch <- s:
				case <-ctx.Done():
					return
				}
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					a.log.Warn().Err(err).Msg("settings listener ping failed")
				}
			}
		}
	}()
	return ch, nil
}

// decode reads a notification. A nil notification signals a reconnect.
func (a *SettingsAdapter) decode(ctx context.Context, n *pq.Notification) (domain.DetectionSettings, bool) {
	if n != nil && n.Extra != "" {
		var s domain.DetectionSettings
		if err := json.Unmarshal([]byte(n.Extra), &s); err == nil {
			return s, true
		}
	}
	s, err := a.Get(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("settings reload after notification failed")
		return s, false
	}
	return s, true
}
