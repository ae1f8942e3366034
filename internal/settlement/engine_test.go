package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-pos-ledger/internal/config"
	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/ledger"
	"go-pos-ledger/internal/metrics"
	"go-pos-ledger/internal/models"

	"github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var saleTime = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

type fixture struct {
	client *database.Client
	store  *ledger.Store
	engine *Engine
	reg    *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, err := database.OpenSQLite(database.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.NewLedgerMetrics(reg)
	clock := func() time.Time { return saleTime }
	store := ledger.NewStore(client, ledger.WithClock(clock), ledger.WithMetrics(m))
	engine := NewEngine(store, config.SettlementConfig{MaxAttempts: 3, RetryBackoff: time.Millisecond},
		WithClock(clock), WithMetrics(m))
	return &fixture{client: client, store: store, engine: engine, reg: reg}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) product(t *testing.T, name, barcode, cost, price string) *models.Product {
	t.Helper()
	p, err := f.store.CreateProduct(context.Background(), ledger.ProductInput{
		Name: name, Barcode: barcode, CostPrice: dec(cost), SellingPrice: dec(price),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) batch(t *testing.T, productID uint, qty int, cost string, expiry time.Time) *models.StockBatch {
	t.Helper()
	c := dec(cost)
	b, err := f.store.ReceiveStock(context.Background(), ledger.ReceiveStockInput{
		ProductID: productID, Quantity: qty, CostPrice: &c, ExpiryDate: &expiry,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) quantity(t *testing.T, batchID uint) int {
	t.Helper()
	var b models.StockBatch
	require.NoError(t, f.client.DB().First(&b, batchID).Error)
	return b.Quantity
}

func (f *fixture) saleCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.client.DB().Model(&models.Sale{}).Count(&n).Error)
	return n
}

func (f *fixture) settlementCount(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "posledger_settlements_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSettleMilk(t *testing.T) {
	f := newFixture(t)
	milk := f.product(t, "Milk", "5001", "2.00", "3.00")
	batch := f.batch(t, milk.ID, 10, "2.00", saleTime.AddDate(0, 0, 2))

	receipt, err := f.engine.Settle(context.Background(), SettleRequest{
		Product:  ledger.ProductRef{ID: milk.ID},
		Quantity: "4",
	})
	require.NoError(t, err)

	assert.Equal(t, "12.00", receipt.TotalAmount.StringFixed(2))
	assert.Equal(t, "4.00", receipt.TotalProfit.StringFixed(2))
	assert.Equal(t, 6, receipt.RemainingStock[milk.ID])
	assert.Equal(t, saleTime, receipt.SaleTime)
	assert.Equal(t, 6, f.quantity(t, batch.ID))

	sale, err := f.store.GetSale(context.Background(), receipt.SaleID)
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, batch.ID, sale.Items[0].StockBatchID)
	assert.True(t, sale.Items[0].PriceAtSale.Equal(dec("3.00")))
	assert.True(t, sale.Items[0].CostAtSale.Equal(dec("2.00")))
	assert.True(t, sale.TotalAmount.Equal(dec("12.00")))
	assert.Equal(t, 1.0, f.settlementCount(t, metrics.OutcomeSettled))
}

func TestSettleByBarcodeWithOperator(t *testing.T) {
	f := newFixture(t)
	user := models.User{Username: "till-1", PasswordHash: "x", Role: models.RoleCashier}
	require.NoError(t, f.client.DB().Create(&user).Error)
	milk := f.product(t, "Milk", "5001", "2.00", "3.00")
	f.batch(t, milk.ID, 3, "2.00", saleTime.AddDate(0, 0, 2))

	receipt, err := f.engine.Settle(context.Background(), SettleRequest{
		Product:    ledger.ProductRef{Barcode: "5001"},
		Quantity:   " 1 ",
		OperatorID: &user.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, receipt.OperatorID)
	assert.Equal(t, user.ID, *receipt.OperatorID)
}

func TestSettleInsufficientStock(t *testing.T) {
	f := newFixture(t)
	milk := f.product(t, "Milk", "5001", "2.00", "3.00")
	batch := f.batch(t, milk.ID, 2, "2.00", saleTime.AddDate(0, 0, 2))

	_, err := f.engine.Settle(context.Background(), SettleRequest{
		Product:  ledger.ProductRef{ID: milk.ID},
		Quantity: "5",
	})
	require.Error(t, err)
	shortage, ok := pkgerrors.ShortageOf(err)
	require.True(t, ok)
	assert.Equal(t, 2, shortage.Available)
	assert.Equal(t, 5, shortage.Requested)

	assert.Equal(t, 2, f.quantity(t, batch.ID))
	assert.Zero(t, f.saleCount(t))
	assert.Equal(t, 1.0, f.settlementCount(t, "insufficient_stock"))
}

func TestSettleConsumesEarliestExpiryFirst(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Yoghurt", "", "1.00", "2.00")
	b2 := f.batch(t, p.ID, 5, "1.00", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	b1 := f.batch(t, p.ID, 5, "1.00", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	_, err := f.engine.Settle(context.Background(), SettleRequest{Product: ledger.ProductRef{ID: p.ID}, Quantity: "3"})
	require.NoError(t, err)

	assert.Equal(t, 2, f.quantity(t, b1.ID))
	assert.Equal(t, 5, f.quantity(t, b2.ID))
}

func TestSettleSplitsAcrossBatchesAtBatchCost(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Cheese", "", "4.00", "6.50")
	first := f.batch(t, p.ID, 2, "4.00", saleTime.AddDate(0, 0, 3))
	second := f.batch(t, p.ID, 5, "4.60", saleTime.AddDate(0, 0, 9))

	receipt, err := f.engine.Settle(context.Background(), SettleRequest{Product: ledger.ProductRef{ID: p.ID}, Quantity: "4"})
	require.NoError(t, err)

	require.Len(t, receipt.Lines, 2)
	assert.Equal(t, first.ID, receipt.Lines[0].BatchID)
	assert.Equal(t, 2, receipt.Lines[0].Quantity)
	assert.Equal(t, second.ID, receipt.Lines[1].BatchID)
	assert.Equal(t, 2, receipt.Lines[1].Quantity)

	// 4 x 6.50 revenue, cost 2 x 4.00 + 2 x 4.60
	assert.Equal(t, "26.00", receipt.TotalAmount.StringFixed(2))
	assert.Equal(t, "8.80", receipt.TotalProfit.StringFixed(2))
	assert.Equal(t, 3, receipt.RemainingStock[p.ID])
	assert.Equal(t, 0, f.quantity(t, first.ID))
	assert.Equal(t, 3, f.quantity(t, second.ID))
}

func TestSettleRejectsBadQuantityWithoutWriting(t *testing.T) {
	f := newFixture(t)
	milk := f.product(t, "Milk", "5001", "2.00", "3.00")
	batch := f.batch(t, milk.ID, 10, "2.00", saleTime.AddDate(0, 0, 2))

	for _, raw := range []string{"0", "-1", "abc", "2.5", "", "   "} {
		_, err := f.engine.Settle(context.Background(), SettleRequest{Product: ledger.ProductRef{ID: milk.ID}, Quantity: raw})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidInput), "quantity %q", raw)
	}

	assert.Equal(t, 10, f.quantity(t, batch.ID))
	assert.Zero(t, f.saleCount(t))
}

func TestSettleUnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Settle(context.Background(), SettleRequest{Product: ledger.ProductRef{Barcode: "nope"}, Quantity: "1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.engine.Settle(context.Background(), SettleRequest{Quantity: "1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidInput))
}

func TestSettleRollsBackWhenSaleWriteFails(t *testing.T) {
	f := newFixture(t)
	milk := f.product(t, "Milk", "5001", "2.00", "3.00")
	batch := f.batch(t, milk.ID, 10, "2.00", saleTime.AddDate(0, 0, 2))

	require.NoError(t, f.client.DB().Callback().Create().Before("gorm:create").Register("test:fail_sales", func(db *gorm.DB) {
		if db.Statement.Table == "sales" {
			_ = db.AddError(errors.New("disk full"))
		}
	}))

	_, err := f.engine.Settle(context.Background(), SettleRequest{Product: ledger.ProductRef{ID: milk.ID}, Quantity: "4"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStorageUnavailable, pkgerrors.CodeOf(err))

	assert.Equal(t, 10, f.quantity(t, batch.ID))
	assert.Zero(t, f.saleCount(t))
}

func injectBusy(t *testing.T, f *fixture, failures int) *int {
	t.Helper()
	calls := 0
	require.NoError(t, f.client.DB().Callback().Create().Before("gorm:create").Register("test:busy_sales", func(db *gorm.DB) {
		if db.Statement.Table != "sales" {
			return
		}
		calls++
		if calls <= failures {
			_ = db.AddError(sqlite3.Error{Code: sqlite3.ErrBusy})
		}
	}))
	return &calls
}

func TestSettleRetriesConflicts(t *testing.T) {
	f := newFixture(t)
	milk := f.product(t, "Milk", "5001", "2.00", "3.00")
	batch := f.batch(t, milk.ID, 10, "2.00", saleTime.AddDate(0, 0, 2))
	calls := injectBusy(t, f, 2)

	receipt, err := f.engine.Settle(context.Background(), SettleRequest{Product: ledger.ProductRef{ID: milk.ID}, Quantity: "4"})
	require.NoError(t, err)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, 6, receipt.RemainingStock[milk.ID])
	assert.Equal(t, 6, f.quantity(t, batch.ID))
	assert.EqualValues(t, 1, f.saleCount(t))
}

func TestSettleGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	milk := f.product(t, "Milk", "5001", "2.00", "3.00")
	batch := f.batch(t, milk.ID, 10, "2.00", saleTime.AddDate(0, 0, 2))
	calls := injectBusy(t, f, 100)

	_, err := f.engine.Settle(context.Background(), SettleRequest{Product: ledger.ProductRef{ID: milk.ID}, Quantity: "4"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, 3, *calls)
	assert.Equal(t, 10, f.quantity(t, batch.ID))
	assert.Zero(t, f.saleCount(t))
	assert.Equal(t, 1.0, f.settlementCount(t, "conflict"))
}

func TestSettleConcurrentNeverOversells(t *testing.T) {
	f := newFixture(t)
	milk := f.product(t, "Milk", "5001", "2.00", "3.00")
	batch := f.batch(t, milk.ID, 10, "2.00", saleTime.AddDate(0, 0, 2))

	const terminals = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		settled  int
		rejected int
	)
	for i := 0; i < terminals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Settle(context.Background(), SettleRequest{Product: ledger.ProductRef{ID: milk.ID}, Quantity: "1"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				settled++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, settled)
	assert.Equal(t, 10, rejected)
	assert.Equal(t, 0, f.quantity(t, batch.ID))
	assert.EqualValues(t, 10, f.saleCount(t))
}

func TestSettleCart(t *testing.T) {
	f := newFixture(t)
	milk := f.product(t, "Milk", "5001", "2.00", "3.00")
	bread := f.product(t, "Bread", "5002", "1.20", "2.00")
	milkBatch := f.batch(t, milk.ID, 10, "2.00", saleTime.AddDate(0, 0, 2))
	breadBatch := f.batch(t, bread.ID, 4, "1.20", saleTime.AddDate(0, 0, 1))

	receipt, err := f.engine.SettleCart(context.Background(), CartRequest{Lines: []LineRequest{
		{Product: ledger.ProductRef{ID: milk.ID}, Quantity: 2},
		{Product: ledger.ProductRef{ID: bread.ID}, Quantity: 1},
		{Product: ledger.ProductRef{Barcode: "5001"}, Quantity: 1},
	}})
	require.NoError(t, err)

	// 3 x 3.00 + 1 x 2.00
	assert.Equal(t, "11.00", receipt.TotalAmount.StringFixed(2))
	assert.Equal(t, "3.80", receipt.TotalProfit.StringFixed(2))
	assert.Len(t, receipt.Lines, 2)
	assert.Equal(t, 7, f.quantity(t, milkBatch.ID))
	assert.Equal(t, 3, f.quantity(t, breadBatch.ID))
}

func TestSettleCartIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	milk := f.product(t, "Milk", "5001", "2.00", "3.00")
	bread := f.product(t, "Bread", "5002", "1.20", "2.00")
	milkBatch := f.batch(t, milk.ID, 10, "2.00", saleTime.AddDate(0, 0, 2))
	breadBatch := f.batch(t, bread.ID, 1, "1.20", saleTime.AddDate(0, 0, 1))

	_, err := f.engine.SettleCart(context.Background(), CartRequest{Lines: []LineRequest{
		{Product: ledger.ProductRef{ID: milk.ID}, Quantity: 2},
		{Product: ledger.ProductRef{ID: bread.ID}, Quantity: 3},
	}})
	shortage, ok := pkgerrors.ShortageOf(err)
	require.True(t, ok)
	assert.Equal(t, 1, shortage.Available)
	assert.Contains(t, err.Error(), "Bread")

	assert.Equal(t, 10, f.quantity(t, milkBatch.ID))
	assert.Equal(t, 1, f.quantity(t, breadBatch.ID))
	assert.Zero(t, f.saleCount(t))

	_, err = f.engine.SettleCart(context.Background(), CartRequest{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidInput))
	_, err = f.engine.SettleCart(context.Background(), CartRequest{Lines: []LineRequest{{Product: ledger.ProductRef{ID: milk.ID}, Quantity: 0}}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidInput))
}

func TestParseQuantity(t *testing.T) {
	qty, err := ParseQuantity("12")
	require.NoError(t, err)
	assert.Equal(t, 12, qty)

	for _, raw := range []string{"0", "-3", "1e2", "4.0", "ten"} {
		_, err := ParseQuantity(raw)
		assert.Error(t, err, raw)
	}
}
