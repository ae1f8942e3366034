package handlers

import (
	"net/http"
	"strings"
	"time"

	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/ledger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// --- GET /api/products: catalogue with stock on hand ---
func (h *Handlers) GetProducts(c *gin.Context) {
	products, err := h.Store.ListProducts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// --- GET /api/products/scan/:barcode ---
// An unknown barcode is a normal answer with status "not_found".
func (h *Handlers) ScanProduct(c *gin.Context) {
	result, err := h.Store.Lookup(c.Request.Context(), c.Param("barcode"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- POST /api/products ---
func (h *Handlers) AddProduct(c *gin.Context) {
	var input ledger.ProductInput
	// 1. Parse JSON Input
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, bindError(err))
		return
	}
	input.AddedByUserID = operator(c)

	// 2. Save (validation and barcode uniqueness live in the store)
	product, err := h.Store.CreateProduct(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// --- PUT /api/products/:id: partial update of reference data ---
func (h *Handlers) UpdateProduct(c *gin.Context) {
	// 1. Get ID from URL (e.g., /products/5)
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}

	// 2. Only the fields that were sent are changed
	var input ledger.ProductUpdate
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, bindError(err))
		return
	}

	product, err := h.Store.UpdateProduct(c.Request.Context(), id, input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// --- DELETE /api/products/:id ---
// Products that appear in sales or purchase orders are PROTECTED.
func (h *Handlers) DeleteProduct(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Store.DeleteProduct(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}

type receiveStockRequest struct {
	Quantity     int              `json:"quantity"`
	CostPrice    *decimal.Decimal `json:"cost_price"`
	ReceivedDate string           `json:"received_date"`
	ExpiryDate   string           `json:"expiry_date"`
}

// --- POST /api/products/:id/batches: receive stock as a new batch ---
func (h *Handlers) ReceiveStock(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var req receiveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}

	input := ledger.ReceiveStockInput{ProductID: id, Quantity: req.Quantity, CostPrice: req.CostPrice}
	if input.ReceivedDate, err = parseDay("received_date", req.ReceivedDate); err != nil {
		h.fail(c, err)
		return
	}
	if input.ExpiryDate, err = parseDay("expiry_date", req.ExpiryDate); err != nil {
		h.fail(c, err)
		return
	}

	batch, err := h.Store.ReceiveStock(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}

// --- GET /api/products/:id/batches: every batch in FIFO order ---
func (h *Handlers) ListBatches(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if _, err := h.Store.GetProduct(c.Request.Context(), ledger.ProductRef{ID: id}); err != nil {
		h.fail(c, err)
		return
	}
	batches, err := h.Store.ListBatches(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

// parseDay accepts YYYY-MM-DD or RFC 3339. Empty means not given.
func parseDay(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "%s %q must be YYYY-MM-DD", field, raw).
		WithDetails(map[string]string{field: "must be YYYY-MM-DD"})
}
