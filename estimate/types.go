package estimate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/estimator/core"
)

// Estimate is a priced proposal document. TotalAmount is a cache of
// Σ(line totals) × (1 + SalesTax/100) and is recomputed on every write.
type Estimate struct {
	ID              int64           `db:"id" json:"id"`
	Number          string          `db:"number" json:"number" validate:"required,estimate_number"`
	Date            string          `db:"date" json:"date" validate:"required,datetime=2006-01-02"`
	PO              string          `db:"po" json:"po"`
	SalesRep        string          `db:"sales_rep" json:"sales_rep"`
	CustomerName    string          `db:"customer_name" json:"customer_name"`
	CustomerEmail   string          `db:"customer_email" json:"customer_email" validate:"omitempty,email"`
	CustomerPhone   string          `db:"customer_phone" json:"customer_phone"`
	BillToAddress   string          `db:"bill_to_address" json:"bill_to_address"`
	WorkShipAddress string          `db:"work_ship_address" json:"work_ship_address"`
	ScopeOfWork     string          `db:"scope_of_work" json:"scope_of_work"`
	Exclusions      string          `db:"exclusions" json:"exclusions"`
	SalesTax        decimal.Decimal `db:"sales_tax" json:"sales_tax" validate:"gte=0"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	Items []LineItem `db:"-" json:"items" validate:"dive"`
}

// LineItem is one priced row of an estimate. Total is always
// Quantity × Price rounded to cents.
type LineItem struct {
	ID          int64           `db:"id" json:"id"`
	EstimateID  int64           `db:"estimate_id" json:"estimate_id"`
	Position    int             `db:"position" json:"position"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity" validate:"gte=0"`
	Description string          `db:"description" json:"description" validate:"required"`
	Price       decimal.Decimal `db:"price" json:"price" validate:"gte=0"`
	Total       decimal.Decimal `db:"total" json:"total"`
}

// Subtotal sums the line totals, before tax.
func (e *Estimate) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range e.Items {
		sum = sum.Add(core.LineTotal(it.Quantity, it.Price).Round(core.Cents))
	}
	return sum
}

// ComputeTotals fills in item positions, line totals and TotalAmount.
func (e *Estimate) ComputeTotals() {
	for i := range e.Items {
		it := &e.Items[i]
		it.Position = i
		it.Total = core.LineTotal(it.Quantity, it.Price).Round(core.Cents)
	}
	e.TotalAmount = core.WithTax(e.Subtotal(), e.SalesTax)
}
