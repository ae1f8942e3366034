// Package alerts keeps a persisted, dismissable copy of the reorder and
// waste facts the analytics reports derive. Nothing on the sale path reads
// or writes alerts.
package alerts

import (
	"context"
	"errors"
	"fmt"

	"go-pos-ledger/internal/analytics"
	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/models"

	"gorm.io/gorm"
)

type Service struct {
	db  *database.Client
	agg *analytics.Aggregator
}

func NewService(db *database.Client, agg *analytics.Aggregator) *Service {
	return &Service{db: db, agg: agg}
}

// Refresh replaces the unviewed reorder and waste alerts with ones built
// from the current stock. Viewed alerts are kept as history.
func (s *Service) Refresh(ctx context.Context, withinDays int) ([]models.Alert, error) {
	low, err := s.agg.LowStockProducts(ctx)
	if err != nil {
		return nil, err
	}
	expiring, err := s.agg.NearExpiryBatches(ctx, withinDays)
	if err != nil {
		return nil, err
	}

	fresh := make([]models.Alert, 0, len(low)+len(expiring))
	for _, l := range low {
		productID := l.Product.ID
		fresh = append(fresh, models.Alert{
			Type:              models.AlertReorder,
			ProductID:         &productID,
			Message:           fmt.Sprintf("%s is down to %d, reorder level is %d", l.Product.Name, l.CurrentStock, l.ReorderLevel),
			SuggestionDetails: fmt.Sprintf("Order at least %d units", l.ReorderLevel-l.CurrentStock),
		})
	}
	for _, e := range expiring {
		productID := e.Batch.ProductID
		msg := fmt.Sprintf("%s batch %d (%d left) expires on %s", e.ProductName, e.Batch.ID, e.Batch.Quantity, e.Batch.ExpiryDate.Format("2006-01-02"))
		suggestion := "Run a promotion before it expires"
		if e.DaysLeft < 0 {
			msg = fmt.Sprintf("%s batch %d (%d left) expired on %s", e.ProductName, e.Batch.ID, e.Batch.Quantity, e.Batch.ExpiryDate.Format("2006-01-02"))
			suggestion = "Remove it from the shelf"
		}
		fresh = append(fresh, models.Alert{
			Type:              models.AlertWaste,
			ProductID:         &productID,
			Message:           msg,
			SuggestionDetails: suggestion,
		})
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("is_viewed = ? AND type IN ?", false, []string{models.AlertReorder, models.AlertWaste}).
			Delete(&models.Alert{}).Error; err != nil {
			return err
		}
		if len(fresh) == 0 {
			return nil
		}
		return tx.Create(&fresh).Error
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// List returns alerts newest first.
func (s *Service) List(ctx context.Context, includeViewed bool) ([]models.Alert, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if !includeViewed {
		q = q.Where("is_viewed = ?", false)
	}
	var out []models.Alert
	if err := q.Find(&out).Error; err != nil {
		return nil, database.Classify(err, "list alerts")
	}
	return out, nil
}

func (s *Service) MarkViewed(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Alert{}).Where("id = ?", id).Update("is_viewed", true)
	if res.Error != nil {
		return database.Classify(res.Error, "mark alert viewed")
	}
	if res.RowsAffected == 0 {
		var alert models.Alert
		err := s.db.WithContext(ctx).First(&alert, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Newf(pkgerrors.CodeNotFound, "alert %d not found", id)
		}
		if err != nil {
			return database.Classify(err, "get alert")
		}
	}
	return nil
}
