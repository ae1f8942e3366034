package ledger

import (
	"context"
	"strings"

	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/models"
)

type LookupStatus string

const (
	LookupFound      LookupStatus = "found"
	LookupOutOfStock LookupStatus = "out_of_stock"
	LookupNotFound   LookupStatus = "not_found"
)

// LookupResult is what a barcode scan shows the cashier.
type LookupResult struct {
	Status       LookupStatus       `json:"status"`
	Product      *models.Product    `json:"product,omitempty"`
	NearestBatch *models.StockBatch `json:"nearest_batch,omitempty"`
	TotalStock   int                `json:"total_stock"`
}

// Lookup resolves a scanned barcode. An unknown barcode is a result, not an error.
func (s *Store) Lookup(ctx context.Context, barcode string) (*LookupResult, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "barcode is required")
	}

	product, err := s.GetProduct(ctx, ProductRef{Barcode: barcode})
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return &LookupResult{Status: LookupNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	batches, err := s.ListAvailableBatches(ctx, product.ID, false)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return &LookupResult{Status: LookupOutOfStock, Product: product}, nil
	}

	total := 0
	for _, b := range batches {
		total += b.Quantity
	}
	nearest := batches[0]
	return &LookupResult{
		Status:       LookupFound,
		Product:      product,
		NearestBatch: &nearest,
		TotalStock:   total,
	}, nil
}
