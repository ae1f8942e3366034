// Package settlement turns a sale request into a committed Sale: it
// allocates stock across batches, prices every line from its batch, and
// writes the sale and the batch decrements as one unit.
package settlement

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-pos-ledger/internal/allocator"
	"go-pos-ledger/internal/config"
	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/ledger"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/metrics"
	"go-pos-ledger/internal/models"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

const (
	defaultMaxAttempts = 3
	minBackoff         = time.Millisecond
)

// Engine settles sales against a ledger store.
type Engine struct {
	store       *ledger.Store
	log         *logger.Logger
	metrics     *metrics.LedgerMetrics
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock sets the source of sale timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store *ledger.Store, cfg config.SettlementConfig, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		log:         logger.Nop(),
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
		now:         time.Now,
	}
	if e.maxAttempts < 1 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.backoff < minBackoff {
		e.backoff = minBackoff
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SettleRequest sells Quantity units of one product. Quantity is the raw
// value the terminal sent and is parsed strictly.
type SettleRequest struct {
	Product    ledger.ProductRef
	Quantity   string
	OperatorID *uint
}

// LineRequest is one product line of a cart.
type LineRequest struct {
	Product  ledger.ProductRef `json:"product"`
	Quantity int               `json:"quantity"`
}

// CartRequest sells several products as a single sale.
type CartRequest struct {
	Lines      []LineRequest
	OperatorID *uint
}

// ReceiptLine is one persisted sale line: a product drawn from one batch.
type ReceiptLine struct {
	ProductID   uint            `json:"product_id"`
	ProductName string          `json:"product_name"`
	BatchID     uint            `json:"batch_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	LineTotal   decimal.Decimal `json:"line_total"`
	LineProfit  decimal.Decimal `json:"line_profit"`
}

// Receipt describes a settled sale.
type Receipt struct {
	SaleID         uint            `json:"sale_id"`
	SaleTime       time.Time       `json:"sale_time"`
	OperatorID     *uint           `json:"operator_id,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	RemainingStock map[uint]int    `json:"remaining_stock"`
	Lines          []ReceiptLine   `json:"lines"`
}

// ParseQuantity accepts a positive base-10 integer and nothing else.
func ParseQuantity(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, pkgerrors.New(pkgerrors.CodeInvalidInput, "quantity is required")
	}
	qty, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "quantity %q is not a whole number", raw)
	}
	if qty <= 0 {
		return 0, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "quantity must be positive, got %d", qty)
	}
	return qty, nil
}

// Settle sells one product. Nothing is written unless the whole sale commits.
func (e *Engine) Settle(ctx context.Context, req SettleRequest) (*Receipt, error) {
	qty, err := ParseQuantity(req.Quantity)
	if err != nil {
		e.observe(time.Now(), err)
		return nil, err
	}
	return e.SettleCart(ctx, CartRequest{
		Lines:      []LineRequest{{Product: req.Product, Quantity: qty}},
		OperatorID: req.OperatorID,
	})
}

// SettleCart sells every line of the cart as one sale. Lines naming the
// same product are merged before allocation.
func (e *Engine) SettleCart(ctx context.Context, req CartRequest) (receipt *Receipt, err error) {
	started := time.Now()
	defer func() { e.observe(started, err) }()

	if err := validateCart(req); err != nil {
		return nil, err
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(e.maxAttempts-1), retry.NewConstant(e.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			e.metrics.IncConflictRetry()
		}

		r, err := e.attempt(ctx, req)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				e.log.Warn(ctx, fmt.Sprintf("settlement attempt %d/%d conflicted", attempt, e.maxAttempts), err)
				return retry.RetryableError(err)
			}
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("sale not settled after %d attempts", attempt))
		}
		return nil, database.Classify(err, "settle sale")
	}

	e.log.Info(e.log.WithField(ctx, "sale_id", receipt.SaleID), "sale settled")
	return receipt, nil
}

func validateCart(req CartRequest) error {
	if len(req.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "cart is empty")
	}
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return pkgerrors.Newf(pkgerrors.CodeInvalidInput, "line %d: quantity must be positive, got %d", i+1, line.Quantity)
		}
		if err := line.Product.Validate(); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInvalidInput, err, fmt.Sprintf("line %d: product id or barcode is required", i+1))
		}
	}
	return nil
}

type demand struct {
	product  *models.Product
	quantity int
}

// attempt runs one allocation-and-commit pass inside a fresh transaction.
func (e *Engine) attempt(ctx context.Context, req CartRequest) (*Receipt, error) {
	var receipt *Receipt
	err := e.store.Transaction(ctx, func(tx *ledger.Store) error {
		demands, err := resolve(ctx, tx, req.Lines)
		if err != nil {
			return err
		}

		sale := models.Sale{
			UserID:      req.OperatorID,
			SaleTime:    e.now().UTC(),
			TotalAmount: decimal.Zero,
			TotalProfit: decimal.Zero,
		}
		remaining := make(map[uint]int, len(demands))
		lines := make([]ReceiptLine, 0, len(demands))

		for _, d := range demands {
			batches, err := tx.ListAvailableBatches(ctx, d.product.ID, true)
			if err != nil {
				return err
			}

			allocations, err := allocator.Allocate(batches, d.quantity)
			if err != nil {
				if shortage, ok := pkgerrors.ShortageOf(err); ok {
					return pkgerrors.Newf(pkgerrors.CodeInsufficientStock, "%s: requested %d, only %d available",
						d.product.Name, shortage.Requested, shortage.Available).WithDetails(shortage)
				}
				return err
			}

			for _, a := range allocations {
				if err := tx.DecrementBatch(ctx, a.Batch.ID, a.Quantity); err != nil {
					// The batch moved under us; rerun the whole sale.
					if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
						return pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("batch %d changed during settlement", a.Batch.ID))
					}
					return err
				}

				line := priceLine(d.product, a)
				sale.Items = append(sale.Items, models.SaleItem{
					ProductID:    d.product.ID,
					StockBatchID: a.Batch.ID,
					Quantity:     a.Quantity,
					PriceAtSale:  line.UnitPrice,
					CostAtSale:   line.UnitCost,
				})
				sale.TotalAmount = sale.TotalAmount.Add(line.LineTotal)
				sale.TotalProfit = sale.TotalProfit.Add(line.LineProfit)
				lines = append(lines, line)
			}
			remaining[d.product.ID] = allocator.Available(batches) - d.quantity
		}

		if err := tx.CreateSale(ctx, &sale); err != nil {
			return err
		}

		receipt = &Receipt{
			SaleID:         sale.ID,
			SaleTime:       sale.SaleTime,
			OperatorID:     sale.UserID,
			TotalAmount:    sale.TotalAmount,
			TotalProfit:    sale.TotalProfit,
			RemainingStock: remaining,
			Lines:          lines,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// resolve loads each line's product and merges repeated products, keeping
// the order in which they first appear.
func resolve(ctx context.Context, tx *ledger.Store, lines []LineRequest) ([]*demand, error) {
	demands := make([]*demand, 0, len(lines))
	byID := make(map[uint]*demand, len(lines))
	for _, line := range lines {
		product, err := tx.GetProduct(ctx, line.Product)
		if err != nil {
			return nil, err
		}
		if d, ok := byID[product.ID]; ok {
			d.quantity += line.Quantity
			continue
		}
		d := &demand{product: product, quantity: line.Quantity}
		byID[product.ID] = d
		demands = append(demands, d)
	}
	return demands, nil
}

// priceLine prices one allocation: revenue from the product's selling
// price, cost from the batch it was drawn from.
func priceLine(product *models.Product, a allocator.Allocation) ReceiptLine {
	qty := decimal.NewFromInt(int64(a.Quantity))
	total := product.SellingPrice.Mul(qty)
	cost := a.Batch.CostPrice.Mul(qty)
	return ReceiptLine{
		ProductID:   product.ID,
		ProductName: product.Name,
		BatchID:     a.Batch.ID,
		Quantity:    a.Quantity,
		UnitPrice:   product.SellingPrice,
		UnitCost:    a.Batch.CostPrice,
		LineTotal:   total,
		LineProfit:  total.Sub(cost),
	}
}

func (e *Engine) observe(started time.Time, err error) {
	outcome := metrics.OutcomeSettled
	if err != nil {
		outcome = strings.ToLower(string(pkgerrors.CodeOf(err)))
	}
	e.metrics.ObserveSettlement(outcome, time.Since(started))
}
