package ledger

import (
	"context"
	"errors"
	"strings"

	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/validation"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductInput is the payload for registering a product.
type ProductInput struct {
	Barcode       string          `json:"barcode" validate:"max=255"`
	Name          string          `json:"name" validate:"required,max=255"`
	Description   string          `json:"description"`
	Category      string          `json:"category" validate:"max=100"`
	CostPrice     decimal.Decimal `json:"cost_price" validate:"gte=0"`
	SellingPrice  decimal.Decimal `json:"selling_price" validate:"gte=0"`
	ReorderLevel  int             `json:"reorder_level" validate:"gte=0"`
	AddedByUserID *uint           `json:"-"`
}

// ProductUpdate changes reference data only. Sale snapshots are never touched.
type ProductUpdate struct {
	Barcode      *string          `json:"barcode" validate:"omitempty,max=255"`
	Name         *string          `json:"name" validate:"omitempty,max=255"`
	Description  *string          `json:"description"`
	Category     *string          `json:"category" validate:"omitempty,max=100"`
	CostPrice    *decimal.Decimal `json:"cost_price" validate:"omitempty,gte=0"`
	SellingPrice *decimal.Decimal `json:"selling_price" validate:"omitempty,gte=0"`
	ReorderLevel *int             `json:"reorder_level" validate:"omitempty,gte=0"`
}

// ProductStock pairs a product with its on-hand quantity across batches.
type ProductStock struct {
	models.Product
	Stock int `json:"stock"`
}

// GetProduct resolves ref to a product.
func (s *Store) GetProduct(ctx context.Context, ref ProductRef) (*models.Product, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var product models.Product
	q := s.conn(ctx)
	var err error
	if ref.ID != 0 {
		err = q.First(&product, ref.ID).Error
	} else {
		err = q.Where("barcode = ?", strings.TrimSpace(ref.Barcode)).First(&product).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "product %s not found", ref)
	}
	if err != nil {
		return nil, database.Classify(err, "get product")
	}
	return &product, nil
}

// ListProducts returns every product with its current stock, ordered by name.
func (s *Store) ListProducts(ctx context.Context) ([]ProductStock, error) {
	var products []models.Product
	if err := s.conn(ctx).Order("name ASC, id ASC").Find(&products).Error; err != nil {
		return nil, database.Classify(err, "list products")
	}

	levels, err := s.StockLevels(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ProductStock, 0, len(products))
	for _, p := range products {
		out = append(out, ProductStock{Product: p, Stock: levels[p.ID]})
	}
	return out, nil
}

func (s *Store) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	product := models.Product{
		Barcode:       normalizeBarcode(in.Barcode),
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		Category:      strings.TrimSpace(in.Category),
		CostPrice:     in.CostPrice.Round(2),
		SellingPrice:  in.SellingPrice.Round(2),
		ReorderLevel:  in.ReorderLevel,
		AddedByUserID: in.AddedByUserID,
	}
	if product.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "name is required")
	}

	if err := s.conn(ctx).Create(&product).Error; err != nil {
		return nil, productWriteError(err, product.Barcode)
	}
	return &product, nil
}

// UpdateProduct applies the non-nil fields of in.
func (s *Store) UpdateProduct(ctx context.Context, id uint, in ProductUpdate) (*models.Product, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	product, err := s.GetProduct(ctx, ProductRef{ID: id})
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "name cannot be empty")
		}
		changes["name"] = name
	}
	if in.Barcode != nil {
		changes["barcode"] = normalizeBarcode(*in.Barcode)
	}
	if in.Description != nil {
		changes["description"] = *in.Description
	}
	if in.Category != nil {
		changes["category"] = strings.TrimSpace(*in.Category)
	}
	if in.CostPrice != nil {
		changes["cost_price"] = in.CostPrice.Round(2)
	}
	if in.SellingPrice != nil {
		changes["selling_price"] = in.SellingPrice.Round(2)
	}
	if in.ReorderLevel != nil {
		changes["reorder_level"] = *in.ReorderLevel
	}
	if len(changes) == 0 {
		return product, nil
	}

	if err := s.conn(ctx).Model(product).Updates(changes).Error; err != nil {
		var barcode *string
		if in.Barcode != nil {
			barcode = normalizeBarcode(*in.Barcode)
		}
		return nil, productWriteError(err, barcode)
	}
	return s.GetProduct(ctx, ProductRef{ID: id})
}

// DeleteProduct removes a product together with its batches and alerts.
// Products referenced by a sale line or purchase order line are protected.
func (s *Store) DeleteProduct(ctx context.Context, id uint) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.GetProduct(ctx, ProductRef{ID: id}); err != nil {
			return err
		}

		conn := tx.conn(ctx)
		var sold int64
		if err := conn.Model(&models.SaleItem{}).Where("product_id = ?", id).Count(&sold).Error; err != nil {
			return database.Classify(err, "count sale items")
		}
		if sold > 0 {
			return pkgerrors.Newf(pkgerrors.CodeProtected, "product %d has sales history and cannot be deleted", id)
		}

		var ordered int64
		if err := conn.Model(&models.PurchaseOrderItem{}).Where("product_id = ?", id).Count(&ordered).Error; err != nil {
			return database.Classify(err, "count purchase order items")
		}
		if ordered > 0 {
			return pkgerrors.Newf(pkgerrors.CodeProtected, "product %d is on a purchase order and cannot be deleted", id)
		}

		if err := conn.Where("product_id = ?", id).Delete(&models.Alert{}).Error; err != nil {
			return database.Classify(err, "delete alerts")
		}
		if err := conn.Where("product_id = ?", id).Delete(&models.StockBatch{}).Error; err != nil {
			return database.Classify(err, "delete batches")
		}
		if err := conn.Delete(&models.Product{}, id).Error; err != nil {
			return database.Classify(err, "delete product")
		}
		return nil
	})
}

func normalizeBarcode(barcode string) *string {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil
	}
	return &barcode
}

func productWriteError(err error, barcode *string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) && barcode != nil {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "barcode "+*barcode+" is already registered")
	}
	return database.Classify(err, "save product")
}
