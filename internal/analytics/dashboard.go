package analytics

import (
	"context"
	"sort"
	"time"

	"go-pos-ledger/internal/database"
	"go-pos-ledger/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Dashboard gathers the day's reports in one payload.
type Dashboard struct {
	Financials      *Financials     `json:"financials"`
	TopProfitMakers []ProfitMaker   `json:"top_profit_makers"`
	LowStock        []LowStock      `json:"low_stock"`
	NearExpiry      []ExpiringBatch `json:"near_expiry"`
}

// Dashboard runs the four reports concurrently with the default window sizes.
func (a *Aggregator) Dashboard(ctx context.Context, date time.Time) (*Dashboard, error) {
	var out Dashboard
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		f, err := a.DailyFinancials(gctx, date)
		out.Financials = f
		return err
	})
	g.Go(func() error {
		top, err := a.TopProfitMakers(gctx, date, a.topN)
		out.TopProfitMakers = top
		return err
	})
	g.Go(func() error {
		low, err := a.LowStockProducts(gctx)
		out.LowStock = low
		return err
	})
	g.Go(func() error {
		exp, err := a.NearExpiryBatches(gctx, a.withinDays)
		out.NearExpiry = exp
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValuationItem is the on-hand value of one product at batch cost.
type ValuationItem struct {
	ProductID uint            `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// CategoryGroup is every valued product of one category.
type CategoryGroup struct {
	CategoryName string          `json:"category_name"`
	Items        []ValuationItem `json:"items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type Valuation struct {
	Categories []CategoryGroup `json:"categories"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

const uncategorized = "Uncategorized"

// StockValuation prices the stock on hand at what each batch cost.
func (a *Aggregator) StockValuation(ctx context.Context) (*Valuation, error) {
	var batches []models.StockBatch
	err := a.db.WithContext(ctx).Preload("Product").Where("quantity > 0").Order("product_id ASC, id ASC").Find(&batches).Error
	if err != nil {
		return nil, database.Classify(err, "load stock")
	}

	groups := map[string]*CategoryGroup{}
	items := map[uint]*ValuationItem{}
	itemCategory := map[uint]string{}
	for _, b := range batches {
		if b.Product == nil {
			continue
		}
		item, ok := items[b.ProductID]
		if !ok {
			item = &ValuationItem{ProductID: b.ProductID, Name: b.Product.Name, TotalCost: decimal.Zero}
			items[b.ProductID] = item

			category := b.Product.Category
			if category == "" {
				category = uncategorized
			}
			itemCategory[b.ProductID] = category
		}
		item.Quantity += b.Quantity
		item.TotalCost = item.TotalCost.Add(b.CostPrice.Mul(decimal.NewFromInt(int64(b.Quantity))))
	}

	out := Valuation{Categories: []CategoryGroup{}, GrandTotal: decimal.Zero}
	for id, item := range items {
		name := itemCategory[id]
		group, ok := groups[name]
		if !ok {
			group = &CategoryGroup{CategoryName: name, Items: []ValuationItem{}, Subtotal: decimal.Zero}
			groups[name] = group
		}
		group.Items = append(group.Items, *item)
		group.Subtotal = group.Subtotal.Add(item.TotalCost)
		out.GrandTotal = out.GrandTotal.Add(item.TotalCost)
	}

	for _, group := range groups {
		sort.Slice(group.Items, func(i, j int) bool {
			if group.Items[i].Name != group.Items[j].Name {
				return group.Items[i].Name < group.Items[j].Name
			}
			return group.Items[i].ProductID < group.Items[j].ProductID
		})
		out.Categories = append(out.Categories, *group)
	}
	sort.Slice(out.Categories, func(i, j int) bool {
		return out.Categories[i].CategoryName < out.Categories[j].CategoryName
	})
	return &out, nil
}
