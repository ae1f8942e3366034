package ledger

import (
	"context"
	"errors"

	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/models"

	"gorm.io/gorm"
)

// RemoveUser deletes an operator. Sales, products and purchase orders keep
// their rows and lose the reference.
func (s *Store) RemoveUser(ctx context.Context, id uint) error {
	return s.Transaction(ctx, func(tx *Store) error {
		conn := tx.conn(ctx)

		var user models.User
		if err := conn.First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Newf(pkgerrors.CodeNotFound, "user %d not found", id)
			}
			return database.Classify(err, "get user")
		}

		detach := []struct {
			model  any
			column string
		}{
			{&models.Sale{}, "user_id"},
			{&models.Product{}, "added_by_user_id"},
			{&models.PurchaseOrder{}, "user_id"},
		}
		for _, d := range detach {
			if err := conn.Model(d.model).Where(d.column+" = ?", id).Update(d.column, nil).Error; err != nil {
				return database.Classify(err, "detach user")
			}
		}

		if err := conn.Delete(&user).Error; err != nil {
			return database.Classify(err, "delete user")
		}
		return nil
	})
}
