package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	statusConnected    = "connected"
	statusDisconnected = "disconnected"
	statusDisabled     = "disabled"

	probeTimeout = 2 * time.Second
)

// Pinger is satisfied by the message store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
	NATS     string `json:"nats"`
	Sessions int    `json:"sessions"`
}

// HealthChecker probes the backing services. Redis and NATS are optional
// and reported as disabled when nil.
type HealthChecker struct {
	db    Pinger
	redis *redis.Client
	nc    *nats.Conn
}

func NewHealthChecker(db Pinger, rdb *redis.Client, nc *nats.Conn) *HealthChecker {
	return &HealthChecker{db: db, redis: rdb, nc: nc}
}

// Check probes every configured dependency.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Database: statusDisabled,
		Redis:    statusDisabled,
		NATS:     statusDisabled,
	}

	if h.db != nil {
		dbCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		status.Database = probe(h.db.Ping(dbCtx))
	}

	if h.redis != nil {
		redisCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		status.Redis = probe(h.redis.Ping(redisCtx).Err())
	}

	if h.nc != nil {
		if h.nc.IsConnected() {
			status.NATS = statusConnected
		} else {
			status.NATS = statusDisconnected
		}
	}
	return status
}

// Healthy reports whether no configured dependency is down.
func (s HealthStatus) Healthy() bool {
	return s.Database != statusDisconnected &&
		s.Redis != statusDisconnected &&
		s.NATS != statusDisconnected
}

func probe(err error) string {
	if err != nil {
		return statusDisconnected
	}
	return statusConnected
}

// GetHealth reports dependency status and the number of live sessions.
func (h *Handler) GetHealth(c *gin.Context) {
	var status HealthStatus
	if h.Health != nil {
		status = h.Health.Check(c.Request.Context())
	} else {
		status = HealthStatus{Database: statusDisabled, Redis: statusDisabled, NATS: statusDisabled}
	}
	status.Sessions = h.Hub.SessionCount()

	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
