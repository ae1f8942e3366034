package handlers

import (
	"net/http"

	"go-pos-ledger/internal/purchasing"

	"github.com/gin-gonic/gin"
)

// --- POST /api/purchase-orders ---
func (h *Handlers) CreatePurchaseOrder(c *gin.Context) {
	var input purchasing.DraftInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, bindError(err))
		return
	}
	input.UserID = operator(c)
	order, err := h.Purchasing.CreateDraft(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// --- GET /api/purchase-orders?status= ---
func (h *Handlers) ListPurchaseOrders(c *gin.Context) {
	orders, err := h.Purchasing.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// --- GET /api/purchase-orders/:id ---
func (h *Handlers) GetPurchaseOrder(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	order, err := h.Purchasing.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// --- POST /api/purchase-orders/:id/items (drafts only) ---
func (h *Handlers) AddPurchaseOrderItem(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var input purchasing.ItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.fail(c, bindError(err))
		return
	}
	item, err := h.Purchasing.AddItem(c.Request.Context(), id, input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// --- POST /api/purchase-orders/:id/send ---
func (h *Handlers) SendPurchaseOrder(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	order, err := h.Purchasing.MarkSent(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type receiveOrderRequest struct {
	Items []struct {
		ItemID     uint   `json:"item_id"`
		ExpiryDate string `json:"expiry_date"`
	} `json:"items"`
}

// --- POST /api/purchase-orders/:id/receive: books every line into stock ---
func (h *Handlers) ReceivePurchaseOrder(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}

	// An empty body receives every line without expiry dates
	var req receiveOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, bindError(err))
			return
		}
	}
	receipts := make([]purchasing.ItemReceipt, 0, len(req.Items))
	for _, item := range req.Items {
		expiry, err := parseDay("expiry_date", item.ExpiryDate)
		if err != nil {
			h.fail(c, err)
			return
		}
		receipts = append(receipts, purchasing.ItemReceipt{ItemID: item.ItemID, ExpiryDate: expiry})
	}

	received, err := h.Purchasing.Receive(c.Request.Context(), id, receipts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, received)
}
