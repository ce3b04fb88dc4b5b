package db

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// PoolStats is a snapshot of the shared pool. Saturated means every slot is
// checked out and repository calls are queueing for a connection.
type PoolStats struct {
	TotalConns        int32  `json:"total_conns"`
	IdleConns         int32  `json:"idle_conns"`
	AcquiredConns     int32  `json:"acquired_conns"`
	MaxConns          int32  `json:"max_conns"`
	AcquireCount      int64  `json:"acquire_count"`
	EmptyAcquireCount int64  `json:"empty_acquire_count"`
	AcquireDuration   string `json:"acquire_duration"`
	Saturated         bool   `json:"saturated"`
}

func poolStats(stat *pgxpool.Stat) *PoolStats {
	return &PoolStats{
		TotalConns:        stat.TotalConns(),
		IdleConns:         stat.IdleConns(),
		AcquiredConns:     stat.AcquiredConns(),
		MaxConns:          stat.MaxConns(),
		AcquireCount:      stat.AcquireCount(),
		EmptyAcquireCount: stat.EmptyAcquireCount(),
		AcquireDuration:   stat.AcquireDuration().String(),
		Saturated:         saturated(stat.AcquiredConns(), stat.MaxConns()),
	}
}

func saturated(acquired, max int32) bool {
	return max > 0 && acquired >= max
}

// StoreHealth is the /health/store body for the Postgres driver.
type StoreHealth struct {
	Status        string     `json:"status"`
	Driver        string     `json:"driver"`
	Latency       string     `json:"latency,omitempty"`
	SchemaVersion int        `json:"schema_version"`
	Error         string     `json:"error,omitempty"`
	Pool          *PoolStats `json:"pool,omitempty"`
}

// HTTPStatus maps the report to the health endpoint's status code.
func (h StoreHealth) HTTPStatus() int {
	if h.Status != StatusHealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// Check pings the pool and reads the latest applied migration in schema. A
// store that answers but was never migrated is reported unhealthy.
func Check(ctx context.Context, pool *pgxpool.Pool, schema string) StoreHealth {
	h := StoreHealth{Driver: "postgres", Pool: poolStats(pool.Stat())}

	start := time.Now()
	if err := pool.Ping(ctx); err != nil {
		h.Status, h.Error = StatusUnhealthy, err.Error()
		return h
	}
	h.Latency = time.Since(start).String()

	q := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s.schema_migrations", quoteSchema(schema))
	if err := pool.QueryRow(ctx, q).Scan(&h.SchemaVersion); err != nil {
		h.Status, h.Error = StatusUnhealthy, "read schema version: "+err.Error()
		return h
	}
	h.Status = StatusHealthy
	return h
}

// HealthHandler serves Check on /health/store.
func HealthHandler(pool *pgxpool.Pool, schema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		h := Check(ctx, pool, schema)
		return c.JSON(h.HTTPStatus(), h)
	}
}
