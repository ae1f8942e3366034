package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// --- POST /api/alerts/refresh?days= ---
func (h *Handlers) RefreshAlerts(c *gin.Context) {
	days, err := intQuery(c, "days", h.Analytics.DefaultWithinDays())
	if err != nil {
		h.fail(c, err)
		return
	}
	created, err := h.Alerts.Refresh(c.Request.Context(), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, created)
}

// --- GET /api/alerts?all=true ---
func (h *Handlers) ListAlerts(c *gin.Context) {
	list, err := h.Alerts.List(c.Request.Context(), c.Query("all") == "true")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// --- POST /api/alerts/:id/view ---
func (h *Handlers) MarkAlertViewed(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Alerts.MarkViewed(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
