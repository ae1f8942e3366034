package handlers

import (
	"net/http"

	"go-pos-ledger/internal/ai"
	pkgerrors "go-pos-ledger/internal/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// --- POST /api/advisor/summary?days= ---
// Collects expiring and low-stock facts and asks the summarizer about them.
func (h *Handlers) AdvisorSummary(c *gin.Context) {
	// 1. Without a key there is nothing to call
	if h.Summarizer == nil {
		h.fail(c, pkgerrors.New(pkgerrors.CodeDependency, "ai summary is not configured"))
		return
	}
	days, err := intQuery(c, "days", h.Analytics.DefaultWithinDays())
	if err != nil {
		h.fail(c, err)
		return
	}

	// 2. Gather the facts from the ledger
	ctx := c.Request.Context()
	g, gctx := errgroup.WithContext(ctx)
	var facts ai.Facts
	g.Go(func() error {
		expiring, err := h.Analytics.NearExpiryBatches(gctx, days)
		if err != nil {
			return err
		}
		facts.Expiring = ai.FactsFrom(expiring, nil).Expiring
		return nil
	})
	g.Go(func() error {
		low, err := h.Analytics.LowStockProducts(gctx)
		if err != nil {
			return err
		}
		facts.LowStock = ai.FactsFrom(nil, low).LowStock
		return nil
	})
	if err := g.Wait(); err != nil {
		h.fail(c, err)
		return
	}

	// 3. Nothing to say, skip the model
	if facts.Empty() {
		c.JSON(http.StatusOK, gin.H{"summary": ai.QuietSummary, "facts": facts})
		return
	}

	// 4. Ask for the summary
	summary, err := h.Summarizer.Summarize(ctx, facts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "facts": facts})
}

type askRequest struct {
	Message string `json:"message"`
}

// --- POST /api/advisor/ask ---
func (h *Handlers) AskAdvisor(c *gin.Context) {
	if h.Advisor == nil {
		h.fail(c, pkgerrors.New(pkgerrors.CodeDependency, "ai advisor is not configured"))
		return
	}
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}
	reply, err := h.Advisor.Ask(c.Request.Context(), req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}
