package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	pkgerrors "go-pos-ledger/internal/errors"

	"github.com/gin-gonic/gin"
)

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

const healthTimeout = 2 * time.Second

// --- GET /health ---
// Reports each dependency; any failure turns the whole answer into a 503.
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(h.Pingers))
	for name := range h.Pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.Pingers[name].Ping(ctx); err != nil {
			h.Log.Warn(ctx, "health check failed: "+name, err)
			checks[name] = "down"
			healthy = false
			continue
		}
		checks[name] = "up"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"checks": checks,
			"error":  gin.H{"code": pkgerrors.CodeStorageUnavailable, "message": "a dependency is unavailable"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "online", "checks": checks})
}

// --- GET /api/system/status: what this deployment has switched on ---
func (h *Handlers) SystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"db_driver":        h.DB.Driver(),
		"idempotency":      h.Pingers["redis"] != nil,
		"ai_summary":       h.Summarizer != nil,
		"ai_advisor":       h.Advisor != nil,
		"near_expiry_days": h.Analytics.DefaultWithinDays(),
		"top_profit_limit": h.Analytics.DefaultTopN(),
	})
}
