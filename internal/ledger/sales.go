package ledger

import (
	"context"
	"errors"

	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/models"

	"gorm.io/gorm"
)

// CreateSale writes the sale header and its lines in one statement batch.
// Call it on a transaction-bound store to commit it with the batch decrements.
func (s *Store) CreateSale(ctx context.Context, sale *models.Sale) error {
	if len(sale.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "sale must have at least one line")
	}
	for _, item := range sale.Items {
		if item.Quantity <= 0 {
			return pkgerrors.Newf(pkgerrors.CodeInvalidInput, "sale line quantity must be positive, got %d", item.Quantity)
		}
	}

	if err := s.conn(ctx).Create(sale).Error; err != nil {
		return database.Classify(err, "create sale")
	}
	return nil
}

// GetSale loads a sale with its lines.
func (s *Store) GetSale(ctx context.Context, id uint) (*models.Sale, error) {
	var sale models.Sale
	err := s.conn(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&sale, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "sale %d not found", id)
	}
	if err != nil {
		return nil, database.Classify(err, "get sale")
	}
	return &sale, nil
}
