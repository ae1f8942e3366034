package database

import (
	"context"
	"time"

	"go-pos-ledger/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesReport sums the sales recorded in a time window.
type SalesReport struct {
	Revenue   decimal.Decimal
	Profit    decimal.Decimal
	COGS      decimal.Decimal
	SaleCount int64
}

// SoldLine is one sale line inside a reporting window.
type SoldLine struct {
	SaleID      uint
	ProductID   uint
	ProductName string
	Quantity    int
	PriceAtSale decimal.Decimal
	CostAtSale  decimal.Decimal
}

// GetSalesReport totals sales whose sale_time falls in [start, end).
// Money is summed in Go so every driver returns the same exact decimals.
func GetSalesReport(ctx context.Context, db *gorm.DB, start, end time.Time) (*SalesReport, error) {
	var sales []models.Sale
	err := db.WithContext(ctx).
		Select("id", "total_amount", "total_profit").
		Where("sale_time >= ? AND sale_time < ?", start.UTC(), end.UTC()).
		Find(&sales).Error
	if err != nil {
		return nil, Classify(err, "load sales")
	}

	report := SalesReport{
		Revenue:   decimal.Zero,
		Profit:    decimal.Zero,
		COGS:      decimal.Zero,
		SaleCount: int64(len(sales)),
	}
	for _, s := range sales {
		report.Revenue = report.Revenue.Add(s.TotalAmount)
		report.Profit = report.Profit.Add(s.TotalProfit)
	}

	lines, err := GetSoldLines(ctx, db, start, end)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		report.COGS = report.COGS.Add(l.CostAtSale.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return &report, nil
}

// GetSoldLines returns every sale line of sales in [start, end) with the
// product name attached.
func GetSoldLines(ctx context.Context, db *gorm.DB, start, end time.Time) ([]SoldLine, error) {
	var lines []SoldLine
	err := db.WithContext(ctx).Table("sale_items").
		Select("sale_items.sale_id, sale_items.product_id, products.name AS product_name, sale_items.quantity, sale_items.price_at_sale, sale_items.cost_at_sale").
		Joins("JOIN sales ON sales.id = sale_items.sale_id").
		Joins("JOIN products ON products.id = sale_items.product_id").
		Where("sales.sale_time >= ? AND sales.sale_time < ?", start.UTC(), end.UTC()).
		Order("sale_items.id ASC").
		Scan(&lines).Error
	if err != nil {
		return nil, Classify(err, "load sale lines")
	}
	return lines, nil
}
