package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// =============================================================================
// Settings DB Pool Health
// =============================================================================

// DBPoolStats holds database/sql connection pool statistics.
type DBPoolStats struct {
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	MaxOpenConnections int           `json:"max_open_connections"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// GetDBPoolStats reads pool statistics from db. A nil db yields zero stats.
func GetDBPoolStats(db *sql.DB) DBPoolStats {
	if db == nil {
		return DBPoolStats{}
	}
	s := db.Stats()
	return DBPoolStats{
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		MaxOpenConnections: s.MaxOpenConnections,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}

// PoolHealthStatus indicates the health of a connection pool.
type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// PoolHealth is the assessment of one pool.
type PoolHealth struct {
	Status      PoolHealthStatus `json:"status"`
	Utilization float64          `json:"utilization"` // 0.0 - 1.0
	Message     string           `json:"message,omitempty"`
}

// AssessDBPoolHealth grades utilization and wait time.
func AssessDBPoolHealth(stats DBPoolStats) PoolHealth {
	if stats.MaxOpenConnections == 0 {
		return PoolHealth{Status: PoolHealthy, Message: "unlimited connections"}
	}

	h := PoolHealth{
		Status:      PoolHealthy,
		Utilization: float64(stats.InUse) / float64(stats.MaxOpenConnections),
		Message:     "pool operating normally",
	}
	switch {
	case h.Utilization >= 0.95:
		h.Status, h.Message = PoolUnhealthy, "pool nearly exhausted"
	case h.Utilization >= 0.80:
		h.Status, h.Message = PoolDegraded, "high pool utilization"
	}

	if stats.WaitCount > 0 && stats.WaitDuration > 5*time.Second {
		if h.Status == PoolHealthy {
			h.Status = PoolDegraded
		}
		h.Message = "elevated connection wait times"
	}
	return h
}

// DBPoolCheck returns a readiness probe that pings db and fails when its
// pool is exhausted.
func DBPoolCheck(db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if h := AssessDBPoolHealth(GetDBPoolStats(db)); h.Status == PoolUnhealthy {
			return fmt.Errorf("%s (%.0f%% in use)", h.Message, h.Utilization*100)
		}
		return nil
	}
}
