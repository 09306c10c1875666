package domain

import "time"

// Product is the catalog view the commerce core needs: price, stock and the voucher flags.
type Product struct {
	ID            string
	Name          string
	Price         int64
	DiscountPrice *int64
	Stock         int
	IsActive      bool
	IsOnSale      bool
	NoVoucherTag  bool
	UpdatedAt     time.Time
}

// EffectivePrice returns the discount price when set, otherwise the list price.
func (p Product) EffectivePrice() int64 {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

// IsDiscounted reports whether a discount price below the list price is in effect.
func (p Product) IsDiscounted() bool {
	return p.DiscountPrice != nil && *p.DiscountPrice < p.Price
}

// StockLine is a product/quantity pair used for reservations and restorations.
type StockLine struct {
	ProductID string
	Quantity  int
}

// AggregateStockLines merges lines that reference the same product, keeping first-seen order.
func AggregateStockLines(lines []StockLine) []StockLine {
	if len(lines) == 0 {
		return nil
	}
	index := make(map[string]int, len(lines))
	out := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		if pos, ok := index[line.ProductID]; ok {
			out[pos].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out
}
