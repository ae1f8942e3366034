package ledger

import (
	"context"
	"errors"
	"time"

	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/validation"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceiveStockInput records a delivery of one product. CostPrice defaults to
// the product's reference cost, copied into the batch once.
type ReceiveStockInput struct {
	ProductID       uint             `json:"product_id" validate:"required"`
	Quantity        int              `json:"quantity" validate:"gt=0"`
	CostPrice       *decimal.Decimal `json:"cost_price" validate:"omitempty,gte=0"`
	ReceivedDate    *time.Time       `json:"received_date"`
	ExpiryDate      *time.Time       `json:"expiry_date"`
	PurchaseOrderID *uint            `json:"purchase_order_id"`
}

// ListAvailableBatches returns the product's batches with stock left in
// consumption order. With lock set the rows stay locked until the
// surrounding transaction ends.
func (s *Store) ListAvailableBatches(ctx context.Context, productID uint, lock bool) ([]models.StockBatch, error) {
	q := s.conn(ctx).Where("product_id = ? AND quantity > 0", productID).Order(fifoOrder)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var batches []models.StockBatch
	if err := q.Find(&batches).Error; err != nil {
		return nil, database.Classify(err, "list batches")
	}
	return batches, nil
}

// ListBatches returns every batch of the product, empty ones included.
func (s *Store) ListBatches(ctx context.Context, productID uint) ([]models.StockBatch, error) {
	var batches []models.StockBatch
	if err := s.conn(ctx).Where("product_id = ?", productID).Order(fifoOrder).Find(&batches).Error; err != nil {
		return nil, database.Classify(err, "list batches")
	}
	return batches, nil
}

// DecrementBatch takes amount units out of a batch. The guarded update never
// lets the quantity go below zero, whatever other writers are doing.
func (s *Store) DecrementBatch(ctx context.Context, batchID uint, amount int) error {
	if amount <= 0 {
		return pkgerrors.Newf(pkgerrors.CodeInvalidInput, "decrement amount must be positive, got %d", amount)
	}

	res := s.conn(ctx).Model(&models.StockBatch{}).
		Where("id = ? AND quantity >= ?", batchID, amount).
		UpdateColumn("quantity", gorm.Expr("quantity - ?", amount))
	if res.Error != nil {
		return database.Classify(res.Error, "decrement batch")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var batch models.StockBatch
	err := s.conn(ctx).Select("id", "quantity").First(&batch, batchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "batch %d not found", batchID)
	}
	if err != nil {
		return database.Classify(err, "read batch")
	}
	return pkgerrors.InsufficientStock(amount, batch.Quantity)
}

// CreateBatch inserts a fully specified batch.
func (s *Store) CreateBatch(ctx context.Context, batch *models.StockBatch) error {
	if batch.Quantity <= 0 {
		return pkgerrors.Newf(pkgerrors.CodeInvalidInput, "batch quantity must be positive, got %d", batch.Quantity)
	}
	if batch.CostPrice.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "batch cost cannot be negative")
	}
	if _, err := s.GetProduct(ctx, ProductRef{ID: batch.ProductID}); err != nil {
		return err
	}

	if batch.ReceivedDate.IsZero() {
		batch.ReceivedDate = s.now()
	}
	batch.ReceivedDate = batch.ReceivedDate.UTC()
	if batch.ExpiryDate != nil {
		expiry := dateOnly(*batch.ExpiryDate)
		batch.ExpiryDate = &expiry
	}
	batch.CostPrice = batch.CostPrice.Round(2)

	if err := s.conn(ctx).Create(batch).Error; err != nil {
		return database.Classify(err, "create batch")
	}
	return nil
}

// ReceiveStock adds a new batch for a product.
func (s *Store) ReceiveStock(ctx context.Context, in ReceiveStockInput) (*models.StockBatch, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	product, err := s.GetProduct(ctx, ProductRef{ID: in.ProductID})
	if err != nil {
		return nil, err
	}

	batch := models.StockBatch{
		ProductID:       product.ID,
		Quantity:        in.Quantity,
		CostPrice:       product.CostPrice,
		ExpiryDate:      in.ExpiryDate,
		PurchaseOrderID: in.PurchaseOrderID,
	}
	if in.CostPrice != nil {
		batch.CostPrice = *in.CostPrice
	}
	if in.ReceivedDate != nil {
		batch.ReceivedDate = *in.ReceivedDate
	}

	if err := s.CreateBatch(ctx, &batch); err != nil {
		return nil, err
	}
	// Transactional callers count the units once they commit.
	if s.tx == nil {
		s.metrics.AddStockReceived(batch.Quantity)
	}
	return &batch, nil
}

// StockLevel is the total quantity on hand across the product's batches.
func (s *Store) StockLevel(ctx context.Context, productID uint) (int, error) {
	var total int64
	err := s.conn(ctx).Model(&models.StockBatch{}).
		Where("product_id = ?", productID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, database.Classify(err, "stock level")
	}
	return int(total), nil
}

// StockLevels returns on-hand quantity per product id. Products without
// batches are absent from the map.
func (s *Store) StockLevels(ctx context.Context, productIDs ...uint) (map[uint]int, error) {
	var rows []struct {
		ProductID uint
		Total     int64
	}
	q := s.conn(ctx).Model(&models.StockBatch{}).
		Select("product_id, COALESCE(SUM(quantity), 0) AS total").
		Group("product_id")
	if len(productIDs) > 0 {
		q = q.Where("product_id IN ?", productIDs)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, database.Classify(err, "stock levels")
	}

	levels := make(map[uint]int, len(rows))
	for _, r := range rows {
		levels[r.ProductID] = int(r.Total)
	}
	return levels, nil
}
