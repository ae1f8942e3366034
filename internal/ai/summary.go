// Package ai turns ledger facts into plain-language advice using Gemini.
// Nothing here is on the sale path; every call is best effort.
package ai

import (
	"context"
	"fmt"
	"strings"

	"go-pos-ledger/internal/analytics"
)

// Summarizer writes a short consultant-style summary of the facts.
type Summarizer interface {
	Summarize(ctx context.Context, facts Facts) (string, error)
}

type ExpiringFact struct {
	Product    string `json:"product"`
	Stock      int    `json:"stock"`
	ExpiryDate string `json:"expiry_date"`
}

type LowStockFact struct {
	Name         string `json:"name"`
	CurrentStock int    `json:"current_stock"`
	ReorderLevel int    `json:"reorder_level"`
}

// Facts is the raw inventory picture handed to the model.
type Facts struct {
	Expiring []ExpiringFact `json:"expiring"`
	LowStock []LowStockFact `json:"low_stock"`
}

func FactsFrom(expiring []analytics.ExpiringBatch, low []analytics.LowStock) Facts {
	facts := Facts{
		Expiring: make([]ExpiringFact, 0, len(expiring)),
		LowStock: make([]LowStockFact, 0, len(low)),
	}
	for _, e := range expiring {
		fact := ExpiringFact{Product: e.ProductName, Stock: e.Batch.Quantity}
		if e.Batch.ExpiryDate != nil {
			fact.ExpiryDate = e.Batch.ExpiryDate.Format("2006-01-02")
		}
		facts.Expiring = append(facts.Expiring, fact)
	}
	for _, l := range low {
		facts.LowStock = append(facts.LowStock, LowStockFact{
			Name:         l.Product.Name,
			CurrentStock: l.CurrentStock,
			ReorderLevel: l.ReorderLevel,
		})
	}
	return facts
}

// QuietSummary is reported instead of calling the model when there are no facts.
const QuietSummary = "Stock levels are healthy and nothing is close to expiry."

func (f Facts) Empty() bool {
	return len(f.Expiring) == 0 && len(f.LowStock) == 0
}

// BuildPrompt renders the facts as the consultant prompt.
func BuildPrompt(facts Facts) string {
	var b strings.Builder
	b.WriteString("Act as a local business consultant. Analyze the following raw inventory data and provide a short, professional, and actionable summary. ")
	b.WriteString("Suggest specific actions (like running promotions on expiring goods or immediate reordering).\n\n")

	b.WriteString("--- Expiring Soon ---\n")
	if len(facts.Expiring) == 0 {
		b.WriteString("No products are expiring soon.\n")
	}
	for _, e := range facts.Expiring {
		fmt.Fprintf(&b, "- Product: %s (Stock: %d) expires on %s\n", e.Product, e.Stock, e.ExpiryDate)
	}

	b.WriteString("\n--- Low Stock Alerts ---\n")
	if len(facts.LowStock) == 0 {
		b.WriteString("All critical products are well-stocked.\n")
	}
	for _, l := range facts.LowStock {
		fmt.Fprintf(&b, "- Product: %s (Stock: %d, Reorder at: %d)\n", l.Name, l.CurrentStock, l.ReorderLevel)
	}
	return b.String()
}
