package order

import "github.com/shopspring/decimal"

// PricingConfig holds the rates applied by the Engine. Rates are fractions
// (0.10 means ten percent).
type PricingConfig struct {
	TaxRate     decimal.Decimal
	ServiceRate decimal.Decimal
	DeliveryFee decimal.Decimal
}

// DefaultPricing is used when no pricing configuration is supplied.
var DefaultPricing = PricingConfig{
	TaxRate:     decimal.RequireFromString("0.10"),
	ServiceRate: decimal.RequireFromString("0.05"),
	DeliveryFee: decimal.RequireFromString("3.00"),
}

// Line is a priced quantity of one menu item.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal returns the rounded line total.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

// Discount is an approved reduction. Percentage is applied to the subtotal
// and added to Amount.
type Discount struct {
	Amount     decimal.Decimal
	Percentage decimal.Decimal
}

// Totals are the monetary fields of an order. Every field is rounded to two
// decimal places and Total equals the sum of the parts.
type Totals struct {
	Subtotal      decimal.Decimal
	TaxAmount     decimal.Decimal
	ServiceCharge decimal.Decimal
	DeliveryFee   decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
}

// Engine computes order totals. It holds no state besides its configuration.
type Engine struct {
	cfg PricingConfig
}

// NewEngine returns an Engine using cfg.
func NewEngine(cfg PricingConfig) *Engine {
	return &Engine{cfg: cfg}
}

var hundred = decimal.NewFromInt(100)

// Compute prices lines for an order of type t. The discount never brings the
// total below zero.
func (e *Engine) Compute(lines []Line, t Type, d Discount) Totals {
	var out Totals
	for _, l := range lines {
		out.Subtotal = out.Subtotal.Add(l.Subtotal())
	}
	out.TaxAmount = out.Subtotal.Mul(e.cfg.TaxRate).Round(2)
	if t == TypeDineIn {
		out.ServiceCharge = out.Subtotal.Mul(e.cfg.ServiceRate).Round(2)
	}
	if t == TypeDelivery {
		out.DeliveryFee = e.cfg.DeliveryFee.Round(2)
	}

	gross := out.Subtotal.Add(out.TaxAmount).Add(out.ServiceCharge).Add(out.DeliveryFee)
	discount := d.Amount.Add(out.Subtotal.Mul(d.Percentage).Div(hundred)).Round(2)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(gross) {
		discount = gross
	}
	out.Discount = discount
	out.Total = gross.Sub(discount)
	return out
}
