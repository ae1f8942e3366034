package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// User - The person operating a terminal
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:50;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         string    `gorm:"size:20;not null;default:cashier" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Product - a sellable item; prices here are reference values only
type Product struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Barcode       *string         `gorm:"uniqueIndex;size:255" json:"barcode,omitempty"`
	Name          string          `gorm:"size:255;not null" json:"name"`
	Description   string          `gorm:"type:text" json:"description"`
	Category      string          `gorm:"size:100" json:"category"`
	CostPrice     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"cost_price"`
	SellingPrice  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"selling_price"`
	ReorderLevel  int             `gorm:"not null;default:0" json:"reorder_level"`
	AddedByUserID *uint           `gorm:"index" json:"added_by_user_id,omitempty"`
	AddedByUser   *User           `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
}

// StockBatch - one lot of a product received at one time, with its own cost and expiry
type StockBatch struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	ProductID       uint            `gorm:"not null;index" json:"product_id"`
	Product         *Product        `gorm:"constraint:OnDelete:CASCADE" json:"product,omitempty"`
	Quantity        int             `gorm:"not null;check:chk_stock_batches_quantity,quantity >= 0" json:"quantity"`
	CostPrice       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"cost_price"`
	ReceivedDate    time.Time       `gorm:"not null" json:"received_date"`
	ExpiryDate      *time.Time      `gorm:"index" json:"expiry_date,omitempty"`
	PurchaseOrderID *uint           `gorm:"index" json:"purchase_order_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Sale - The Transaction Header. Written once at settlement, never updated.
type Sale struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      *uint           `gorm:"index" json:"user_id,omitempty"` // Who processed it
	User        *User           `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	SaleTime    time.Time       `gorm:"not null;index" json:"sale_time"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_amount"`
	TotalProfit decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_profit"`
	Items       []SaleItem      `gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE" json:"items"`
}

// SaleItem - one line of a sale, drawn from exactly one batch
type SaleItem struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	SaleID       uint            `gorm:"not null;index" json:"sale_id"`
	ProductID    uint            `gorm:"not null;index" json:"product_id"`
	Product      *Product        `gorm:"constraint:OnDelete:RESTRICT" json:"product,omitempty"`
	StockBatchID uint            `gorm:"not null;index" json:"stock_batch_id"`
	Quantity     int             `gorm:"not null;check:chk_sale_items_quantity,quantity > 0" json:"quantity"`
	PriceAtSale  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price_at_sale"` // Snapshot of price at time of sale
	CostAtSale   decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"cost_at_sale"`  // Snapshot of the batch cost
}

const (
	AlertReorder = "reorder"
	AlertWaste   = "waste"
	AlertTrend   = "trend"
)

// Alert - persisted copy of a derived reorder/waste/trend fact
type Alert struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Type              string    `gorm:"size:10;not null;index" json:"type"`
	ProductID         *uint     `gorm:"index" json:"product_id,omitempty"`
	Product           *Product  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Message           string    `gorm:"type:text;not null" json:"message"`
	SuggestionDetails string    `gorm:"type:text" json:"suggestion_details,omitempty"`
	IsViewed          bool      `gorm:"not null;default:false" json:"is_viewed"`
	CreatedAt         time.Time `json:"created_at"`
}

const (
	PurchaseOrderDraft    = "draft"
	PurchaseOrderSent     = "sent"
	PurchaseOrderReceived = "received"
)

// PurchaseOrder - supplier order; receiving it creates stock batches
type PurchaseOrder struct {
	ID           uint                `gorm:"primaryKey" json:"id"`
	UserID       *uint               `gorm:"index" json:"user_id,omitempty"`
	User         *User               `gorm:"constraint:OnDelete:SET NULL" json:"-"`
	SupplierInfo string              `gorm:"type:text" json:"supplier_info"`
	Status       string              `gorm:"size:10;not null;default:draft" json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	SentAt       *time.Time          `json:"sent_at,omitempty"`
	ReceivedAt   *time.Time          `json:"received_at,omitempty"`
	Items        []PurchaseOrderItem `gorm:"foreignKey:PurchaseOrderID;constraint:OnDelete:CASCADE" json:"items"`
}

type PurchaseOrderItem struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	PurchaseOrderID uint             `gorm:"not null;index" json:"purchase_order_id"`
	ProductID       uint             `gorm:"not null;index" json:"product_id"`
	Product         *Product         `gorm:"constraint:OnDelete:RESTRICT" json:"product,omitempty"`
	Quantity        int              `gorm:"not null" json:"quantity"`
	AgreedCost      *decimal.Decimal `gorm:"type:decimal(10,2)" json:"agreed_cost,omitempty"`
}

// All lists every model in dependency order for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Product{},
		&StockBatch{},
		&Sale{},
		&SaleItem{},
		&Alert{},
		&PurchaseOrder{},
		&PurchaseOrderItem{},
	}
}
