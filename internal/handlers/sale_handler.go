package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/ledger"
	"go-pos-ledger/internal/middleware"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/settlement"

	"github.com/gin-gonic/gin"
)

// rawQuantity keeps the quantity exactly as the terminal sent it, number or
// string, so the engine can reject fractions and junk itself.
type rawQuantity string

func (q *rawQuantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*q = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = rawQuantity(s)
		return nil
	}
	*q = rawQuantity(b)
	return nil
}

type saleRequest struct {
	ProductID uint        `json:"product_id"`
	Barcode   string      `json:"barcode"`
	Quantity  rawQuantity `json:"quantity"`
}

// --- POST /api/sales: settle one product ---
func (h *Handlers) SettleSale(c *gin.Context) {
	var req saleRequest
	// 1. Parse JSON Input
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}

	// 2. Settle atomically; the operator comes from the token
	receipt, err := h.Engine.Settle(c.Request.Context(), settlement.SettleRequest{
		Product:    ledger.ProductRef{ID: req.ProductID, Barcode: req.Barcode},
		Quantity:   string(req.Quantity),
		OperatorID: operator(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

type checkoutRequest struct {
	Items []struct {
		ProductID uint   `json:"product_id"`
		Barcode   string `json:"barcode"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

// --- POST /api/checkout: settle a whole cart as one sale ---
func (h *Handlers) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}

	cart := settlement.CartRequest{OperatorID: operator(c)}
	for _, item := range req.Items {
		cart.Lines = append(cart.Lines, settlement.LineRequest{
			Product:  ledger.ProductRef{ID: item.ProductID, Barcode: item.Barcode},
			Quantity: item.Quantity,
		})
	}

	receipt, err := h.Engine.SettleCart(c.Request.Context(), cart)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// --- GET /api/sales/:id ---
func (h *Handlers) GetSale(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	sale, err := h.Store.GetSale(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if op := operator(c); op != nil && middleware.Role(c) != models.RoleAdmin {
		if sale.UserID == nil || *sale.UserID != *op {
			h.fail(c, pkgerrors.New(pkgerrors.CodeForbidden, "cashiers can only view their own sales"))
			return
		}
	}
	c.JSON(http.StatusOK, sale)
}
