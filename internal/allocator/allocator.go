// Package allocator decides which stock batches a sale draws from.
//
// Batches are consumed first-expiring-first-out: the batch with the earliest
// expiry date goes first, batches without an expiry date go last, and ties
// fall back to the oldest receipt and then the lowest id. A request that the
// batches cannot cover in full is rejected, never partially filled.
package allocator

import (
	"sort"

	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/models"
)

// Allocation is one slice of a sale taken from a single batch.
type Allocation struct {
	Batch    models.StockBatch
	Quantity int
}

// Less reports whether batch a must be consumed before batch b.
func Less(a, b models.StockBatch) bool {
	switch {
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return false
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return true
	case a.ExpiryDate != nil && b.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
		return a.ExpiryDate.Before(*b.ExpiryDate)
	}
	if !a.ReceivedDate.Equal(b.ReceivedDate) {
		return a.ReceivedDate.Before(b.ReceivedDate)
	}
	return a.ID < b.ID
}

// SortFIFO orders batches in place by consumption order.
func SortFIFO(batches []models.StockBatch) {
	sort.SliceStable(batches, func(i, j int) bool {
		return Less(batches[i], batches[j])
	})
}

// Available sums the positive quantities of batches.
func Available(batches []models.StockBatch) int {
	total := 0
	for _, b := range batches {
		if b.Quantity > 0 {
			total += b.Quantity
		}
	}
	return total
}

// Allocate splits requested units across batches in consumption order.
// The input slice is not modified.
func Allocate(batches []models.StockBatch, requested int) ([]Allocation, error) {
	if requested <= 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "quantity must be a positive integer, got %d", requested)
	}

	available := Available(batches)
	if available < requested {
		return nil, pkgerrors.InsufficientStock(requested, available)
	}

	ordered := make([]models.StockBatch, len(batches))
	copy(ordered, batches)
	SortFIFO(ordered)

	remaining := requested
	allocations := make([]Allocation, 0, 1)
	for _, batch := range ordered {
		if remaining == 0 {
			break
		}
		if batch.Quantity <= 0 {
			continue
		}
		take := min(batch.Quantity, remaining)
		allocations = append(allocations, Allocation{Batch: batch, Quantity: take})
		remaining -= take
	}
	return allocations, nil
}
