// Package purchasing runs supplier orders through draft, sent and received.
// Receiving an order is the upstream source of new stock batches.
package purchasing

import (
	"context"
	"errors"
	"time"

	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/ledger"
	"go-pos-ledger/internal/metrics"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/validation"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db      *database.Client
	store   *ledger.Store
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(db *database.Client, store *ledger.Store, opts ...Option) *Service {
	s := &Service{db: db, store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type DraftInput struct {
	SupplierInfo string `json:"supplier_info" validate:"max=2000"`
	UserID       *uint  `json:"-"`
}

type ItemInput struct {
	ProductID  uint             `json:"product_id" validate:"required"`
	Quantity   int              `json:"quantity" validate:"gt=0"`
	AgreedCost *decimal.Decimal `json:"agreed_cost" validate:"omitempty,gte=0"`
}

// ItemReceipt carries the expiry printed on a delivered line.
type ItemReceipt struct {
	ItemID     uint       `json:"item_id"`
	ExpiryDate *time.Time `json:"expiry_date"`
}

// Received is a received order and the batches it created.
type Received struct {
	Order   *models.PurchaseOrder `json:"order"`
	Batches []models.StockBatch   `json:"batches"`
}

func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (*models.PurchaseOrder, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	order := models.PurchaseOrder{
		UserID:       in.UserID,
		SupplierInfo: in.SupplierInfo,
		Status:       models.PurchaseOrderDraft,
	}
	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, database.Classify(err, "create purchase order")
	}
	order.Items = []models.PurchaseOrderItem{}
	return &order, nil
}

// AddItem appends a line to a draft order.
func (s *Service) AddItem(ctx context.Context, orderID uint, in ItemInput) (*models.PurchaseOrderItem, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	var item models.PurchaseOrderItem
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.PurchaseOrderDraft {
			return pkgerrors.Newf(pkgerrors.CodeConflict, "purchase order %d is %s, items can only be added to drafts", orderID, order.Status)
		}
		if _, err := s.store.WithTx(tx).GetProduct(ctx, ledger.ProductRef{ID: in.ProductID}); err != nil {
			return err
		}

		item = models.PurchaseOrderItem{
			PurchaseOrderID: orderID,
			ProductID:       in.ProductID,
			Quantity:        in.Quantity,
		}
		if in.AgreedCost != nil {
			cost := in.AgreedCost.Round(2)
			item.AgreedCost = &cost
		}
		return tx.Create(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// MarkSent moves a non-empty draft to sent.
func (s *Service) MarkSent(ctx context.Context, orderID uint) (*models.PurchaseOrder, error) {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.PurchaseOrderDraft {
			return pkgerrors.Newf(pkgerrors.CodeConflict, "purchase order %d is %s, only drafts can be sent", orderID, order.Status)
		}
		if len(order.Items) == 0 {
			return pkgerrors.Newf(pkgerrors.CodeInvalidInput, "purchase order %d has no items", orderID)
		}
		sentAt := s.now().UTC()
		return tx.Model(&models.PurchaseOrder{}).Where("id = ?", orderID).
			Updates(map[string]any{"status": models.PurchaseOrderSent, "sent_at": sentAt}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

// Receive books a sent order into stock: one batch per line, costed at the
// agreed cost or else the product's reference cost, all in one transaction.
func (s *Service) Receive(ctx context.Context, orderID uint, receipts []ItemReceipt) (*Received, error) {
	expiries := make(map[uint]*time.Time, len(receipts))
	for _, r := range receipts {
		if _, dup := expiries[r.ItemID]; dup {
			return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "item %d is listed more than once", r.ItemID)
		}
		expiries[r.ItemID] = r.ExpiryDate
	}

	var batches []models.StockBatch
	units := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.PurchaseOrderSent {
			return pkgerrors.Newf(pkgerrors.CodeConflict, "purchase order %d is %s, only sent orders can be received", orderID, order.Status)
		}
		for id := range expiries {
			if !hasItem(order.Items, id) {
				return pkgerrors.Newf(pkgerrors.CodeInvalidInput, "item %d is not on purchase order %d", id, orderID)
			}
		}

		receivedAt := s.now().UTC()
		store := s.store.WithTx(tx)
		for _, item := range order.Items {
			batch, err := store.ReceiveStock(ctx, ledger.ReceiveStockInput{
				ProductID:       item.ProductID,
				Quantity:        item.Quantity,
				CostPrice:       item.AgreedCost,
				ReceivedDate:    &receivedAt,
				ExpiryDate:      expiries[item.ID],
				PurchaseOrderID: &order.ID,
			})
			if err != nil {
				return err
			}
			batches = append(batches, *batch)
			units += batch.Quantity
		}

		return tx.Model(&models.PurchaseOrder{}).Where("id = ?", orderID).
			Updates(map[string]any{"status": models.PurchaseOrderReceived, "received_at": receivedAt}).Error
	})
	if err != nil {
		return nil, err
	}
	s.metrics.AddStockReceived(units)

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &Received{Order: order, Batches: batches}, nil
}

func (s *Service) Get(ctx context.Context, orderID uint) (*models.PurchaseOrder, error) {
	var order models.PurchaseOrder
	err := s.db.WithContext(ctx).Preload("Items", orderItems).First(&order, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "purchase order %d not found", orderID)
	}
	if err != nil {
		return nil, database.Classify(err, "get purchase order")
	}
	return &order, nil
}

// List returns orders newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string) ([]models.PurchaseOrder, error) {
	q := s.db.WithContext(ctx).Preload("Items", orderItems).Order("created_at DESC, id DESC")
	switch status {
	case "":
	case models.PurchaseOrderDraft, models.PurchaseOrderSent, models.PurchaseOrderReceived:
		q = q.Where("status = ?", status)
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "unknown purchase order status %q", status)
	}

	var orders []models.PurchaseOrder
	if err := q.Find(&orders).Error; err != nil {
		return nil, database.Classify(err, "list purchase orders")
	}
	return orders, nil
}

func lockOrder(ctx context.Context, tx *gorm.DB, orderID uint) (*models.PurchaseOrder, error) {
	var order models.PurchaseOrder
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "purchase order %d not found", orderID)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Where("purchase_order_id = ?", orderID).Order("id ASC").Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func orderItems(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

func hasItem(items []models.PurchaseOrderItem, id uint) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}
