// Package analytics answers the read-only business questions asked of the
// ledger: what a day earned, which products made the money, what needs
// reordering and what is about to expire.
package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"go-pos-ledger/internal/config"
	"go-pos-ledger/internal/database"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/ledger"
	"go-pos-ledger/internal/models"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Aggregator computes reports in the shop's time zone.
type Aggregator struct {
	db         *database.Client
	store      *ledger.Store
	loc        *time.Location
	now        func() time.Time
	withinDays int
	topN       int
}

type Option func(*Aggregator)

// WithLocation sets the zone that decides where a business day starts.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func New(db *database.Client, store *ledger.Store, cfg config.AnalyticsConfig, opts ...Option) *Aggregator {
	a := &Aggregator{
		db:         db,
		store:      store,
		loc:        time.UTC,
		now:        time.Now,
		withinDays: cfg.NearExpiryDays,
		topN:       cfg.TopN,
	}
	if a.topN < 1 {
		a.topN = 5
	}
	if a.withinDays < 0 {
		a.withinDays = 7
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) DefaultWithinDays() int { return a.withinDays }

func (a *Aggregator) DefaultTopN() int { return a.topN }

// Today is the current date in the shop's zone.
func (a *Aggregator) Today() time.Time {
	y, m, d := a.now().In(a.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.loc)
}

// ParseDate reads YYYY-MM-DD in the shop's zone. Empty means today.
func (a *Aggregator) ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return a.Today(), nil
	}
	date, err := time.ParseInLocation(dateLayout, raw, a.loc)
	if err != nil {
		return time.Time{}, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "date %q must be YYYY-MM-DD", raw)
	}
	return date, nil
}

// DayBounds returns the UTC instants that open and close date's business day.
func (a *Aggregator) DayBounds(date time.Time) (time.Time, time.Time) {
	y, m, d := date.In(a.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, a.loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// Financials is one day's revenue, cost of goods sold and profit.
type Financials struct {
	Date      string          `json:"date"`
	Revenue   decimal.Decimal `json:"revenue"`
	COGS      decimal.Decimal `json:"cogs"`
	Profit    decimal.Decimal `json:"profit"`
	SaleCount int64           `json:"sale_count"`
}

func (a *Aggregator) DailyFinancials(ctx context.Context, date time.Time) (*Financials, error) {
	start, end := a.DayBounds(date)
	report, err := database.GetSalesReport(ctx, a.db.DB(), start, end)
	if err != nil {
		return nil, err
	}
	return &Financials{
		Date:      date.In(a.loc).Format(dateLayout),
		Revenue:   report.Revenue,
		COGS:      report.COGS,
		Profit:    report.Revenue.Sub(report.COGS),
		SaleCount: report.SaleCount,
	}, nil
}

// PeriodFinancials covers the business days from..to, both inclusive.
func (a *Aggregator) PeriodFinancials(ctx context.Context, from, to time.Time) (*Period, error) {
	start, _ := a.DayBounds(from)
	_, end := a.DayBounds(to)
	if !start.Before(end) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "from must not be after to")
	}
	report, err := database.GetSalesReport(ctx, a.db.DB(), start, end)
	if err != nil {
		return nil, err
	}
	return &Period{
		From:      from.In(a.loc).Format(dateLayout),
		To:        to.In(a.loc).Format(dateLayout),
		Revenue:   report.Revenue,
		COGS:      report.COGS,
		Profit:    report.Revenue.Sub(report.COGS),
		SaleCount: report.SaleCount,
	}, nil
}

type Period struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Revenue   decimal.Decimal `json:"revenue"`
	COGS      decimal.Decimal `json:"cogs"`
	Profit    decimal.Decimal `json:"profit"`
	SaleCount int64           `json:"sale_count"`
}

// ProfitMaker is a product's contribution to one day's profit.
type ProfitMaker struct {
	ProductID    uint            `json:"product_id"`
	ProductName  string          `json:"product_name"`
	QuantitySold int             `json:"quantity_sold"`
	Revenue      decimal.Decimal `json:"revenue"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
}

// TopProfitMakers ranks the day's products by profit, highest first, ties by name.
func (a *Aggregator) TopProfitMakers(ctx context.Context, date time.Time, limit int) ([]ProfitMaker, error) {
	if limit <= 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "limit must be positive, got %d", limit)
	}

	start, end := a.DayBounds(date)
	lines, err := database.GetSoldLines(ctx, a.db.DB(), start, end)
	if err != nil {
		return nil, err
	}

	byProduct := map[uint]*ProfitMaker{}
	for _, l := range lines {
		pm, ok := byProduct[l.ProductID]
		if !ok {
			pm = &ProfitMaker{ProductID: l.ProductID, ProductName: l.ProductName, Revenue: decimal.Zero, TotalProfit: decimal.Zero}
			byProduct[l.ProductID] = pm
		}
		qty := decimal.NewFromInt(int64(l.Quantity))
		pm.QuantitySold += l.Quantity
		pm.Revenue = pm.Revenue.Add(l.PriceAtSale.Mul(qty))
		pm.TotalProfit = pm.TotalProfit.Add(l.PriceAtSale.Sub(l.CostAtSale).Mul(qty))
	}

	ranked := make([]ProfitMaker, 0, len(byProduct))
	for _, pm := range byProduct {
		ranked = append(ranked, *pm)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if c := ranked[i].TotalProfit.Cmp(ranked[j].TotalProfit); c != 0 {
			return c > 0
		}
		if ranked[i].ProductName != ranked[j].ProductName {
			return ranked[i].ProductName < ranked[j].ProductName
		}
		return ranked[i].ProductID < ranked[j].ProductID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// LowStock is a product whose stock fell below its reorder level.
type LowStock struct {
	Product      models.Product `json:"product"`
	CurrentStock int            `json:"current_stock"`
	ReorderLevel int            `json:"reorder_level"`
}

// LowStockProducts lists products whose summed batch quantity is below the
// reorder level, ordered by product id. Products without batches count as zero.
func (a *Aggregator) LowStockProducts(ctx context.Context) ([]LowStock, error) {
	var products []models.Product
	err := a.db.WithContext(ctx).Where("reorder_level > 0").Order("id ASC").Find(&products).Error
	if err != nil {
		return nil, database.Classify(err, "load products")
	}
	if len(products) == 0 {
		return []LowStock{}, nil
	}

	levels, err := a.store.StockLevels(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]LowStock, 0)
	for _, p := range products {
		stock := levels[p.ID]
		if stock < p.ReorderLevel {
			out = append(out, LowStock{Product: p, CurrentStock: stock, ReorderLevel: p.ReorderLevel})
		}
	}
	return out, nil
}

// ExpiringBatch is a batch with stock left that expires inside the window.
// DaysLeft is negative for batches already past their date.
type ExpiringBatch struct {
	Batch       models.StockBatch `json:"batch"`
	ProductName string            `json:"product_name"`
	DaysLeft    int               `json:"days_left"`
}

// NearExpiryBatches lists batches with quantity left whose expiry date is at
// most withinDays days after today, soonest first.
func (a *Aggregator) NearExpiryBatches(ctx context.Context, withinDays int) ([]ExpiringBatch, error) {
	if withinDays < 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "days must not be negative, got %d", withinDays)
	}

	y, m, d := a.Today().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	cutoff := today.AddDate(0, 0, withinDays)

	var batches []models.StockBatch
	err := a.db.WithContext(ctx).
		Preload("Product").
		Where("quantity > 0 AND expiry_date IS NOT NULL AND expiry_date <= ?", cutoff).
		Order("expiry_date ASC, id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, database.Classify(err, "load expiring batches")
	}

	out := make([]ExpiringBatch, 0, len(batches))
	for _, b := range batches {
		name := ""
		if b.Product != nil {
			name = b.Product.Name
		}
		b.Product = nil
		out = append(out, ExpiringBatch{
			Batch:       b,
			ProductName: name,
			DaysLeft:    int(b.ExpiryDate.UTC().Sub(today).Hours() / 24),
		})
	}
	return out, nil
}
