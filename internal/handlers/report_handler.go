package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// --- GET /api/reports/daily?date=YYYY-MM-DD ---
func (h *Handlers) DailyFinancials(c *gin.Context) {
	date, err := h.Analytics.ParseDate(c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	fin, err := h.Analytics.DailyFinancials(c.Request.Context(), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fin)
}

// --- GET /api/reports/sales?from=&to= (both inclusive, default today) ---
func (h *Handlers) SalesReport(c *gin.Context) {
	from, err := h.Analytics.ParseDate(c.Query("from"))
	if err != nil {
		h.fail(c, err)
		return
	}
	to, err := h.Analytics.ParseDate(c.Query("to"))
	if err != nil {
		h.fail(c, err)
		return
	}
	period, err := h.Analytics.PeriodFinancials(c.Request.Context(), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, period)
}

// --- GET /api/reports/top-profit?date=&limit= ---
func (h *Handlers) TopProfitMakers(c *gin.Context) {
	date, err := h.Analytics.ParseDate(c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	limit, err := intQuery(c, "limit", h.Analytics.DefaultTopN())
	if err != nil {
		h.fail(c, err)
		return
	}
	top, err := h.Analytics.TopProfitMakers(c.Request.Context(), date, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, top)
}

// --- GET /api/reports/low-stock ---
func (h *Handlers) LowStock(c *gin.Context) {
	low, err := h.Analytics.LowStockProducts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, low)
}

// --- GET /api/reports/near-expiry?days= ---
func (h *Handlers) NearExpiry(c *gin.Context) {
	days, err := intQuery(c, "days", h.Analytics.DefaultWithinDays())
	if err != nil {
		h.fail(c, err)
		return
	}
	batches, err := h.Analytics.NearExpiryBatches(c.Request.Context(), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

// --- GET /api/reports/dashboard?date= ---
func (h *Handlers) Dashboard(c *gin.Context) {
	date, err := h.Analytics.ParseDate(c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	dash, err := h.Analytics.Dashboard(c.Request.Context(), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}

// --- GET /api/reports/valuation: stock on hand at batch cost, by category ---
func (h *Handlers) StockValuation(c *gin.Context) {
	val, err := h.Analytics.StockValuation(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, val)
}
