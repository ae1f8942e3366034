// Package ledger persists products, stock batches and sales, and enforces
// the write-time invariants of the inventory ledger: batch quantities never
// go negative, barcodes are unique, and products referenced by sales history
// cannot be deleted.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/metrics"

	"gorm.io/gorm"
)

// fifoOrder is the consumption order of batches: soonest expiry first,
// no-expiry last, then oldest receipt, then insertion order.
const fifoOrder = "expiry_date IS NULL, expiry_date ASC, received_date ASC, id ASC"

// Store is the ledger's storage layer. A Store bound to a transaction with
// WithTx runs every call inside that transaction.
type Store struct {
	db      *database.Client
	tx      *gorm.DB
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

type Option func(*Store)

func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for receipt dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(db *database.Client, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithTx returns a copy of the store whose calls run inside tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	clone := *s
	clone.tx = tx
	return &clone
}

// Transaction runs fn with a store bound to a single transaction. When the
// store is already bound, fn joins the caller's transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(s.WithTx(tx))
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	if s.tx != nil {
		return s.tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// ProductRef identifies a product by id or by barcode. The id wins when both are set.
type ProductRef struct {
	ID      uint   `json:"product_id,omitempty"`
	Barcode string `json:"barcode,omitempty"`
}

func (r ProductRef) Validate() error {
	if r.ID == 0 && strings.TrimSpace(r.Barcode) == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "product id or barcode is required")
	}
	return nil
}

func (r ProductRef) String() string {
	if r.ID != 0 {
		return fmt.Sprintf("id %d", r.ID)
	}
	return fmt.Sprintf("barcode %q", r.Barcode)
}

// dateOnly truncates t to midnight UTC of its calendar date.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
