package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEngine_Compute(t *testing.T) {
	engine := NewEngine(PricingConfig{
		TaxRate:     dec("0.10"),
		ServiceRate: dec("0.05"),
		DeliveryFee: dec("3.00"),
	})
	lines := []Line{
		{UnitPrice: dec("10.00"), Quantity: 2},
		{UnitPrice: dec("15.00"), Quantity: 1},
	}

	tests := []struct {
		name      string
		orderType Type
		discount  Discount
		want      Totals
	}{
		{
			name:      "dine in adds service charge",
			orderType: TypeDineIn,
			want: Totals{
				Subtotal: dec("35"), TaxAmount: dec("3.50"), ServiceCharge: dec("1.75"),
				Total: dec("40.25"),
			},
		},
		{
			name:      "takeaway",
			orderType: TypeTakeaway,
			want:      Totals{Subtotal: dec("35"), TaxAmount: dec("3.50"), Total: dec("38.50")},
		},
		{
			name:      "delivery adds flat fee",
			orderType: TypeDelivery,
			want: Totals{
				Subtotal: dec("35"), TaxAmount: dec("3.50"), DeliveryFee: dec("3.00"),
				Total: dec("41.50"),
			},
		},
		{
			name:      "room service",
			orderType: TypeRoomService,
			want:      Totals{Subtotal: dec("35"), TaxAmount: dec("3.50"), Total: dec("38.50")},
		},
		{
			name:      "amount and percentage discount",
			orderType: TypeTakeaway,
			discount:  Discount{Amount: dec("2"), Percentage: dec("10")},
			want: Totals{
				Subtotal: dec("35"), TaxAmount: dec("3.50"), Discount: dec("5.50"),
				Total: dec("33.00"),
			},
		},
		{
			name:      "discount capped at gross",
			orderType: TypeTakeaway,
			discount:  Discount{Amount: dec("500")},
			want: Totals{
				Subtotal: dec("35"), TaxAmount: dec("3.50"), Discount: dec("38.50"),
				Total: dec("0"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Compute(lines, tt.orderType, tt.discount)

			assert.True(t, tt.want.Subtotal.Equal(got.Subtotal), "subtotal %s", got.Subtotal)
			assert.True(t, tt.want.TaxAmount.Equal(got.TaxAmount), "tax %s", got.TaxAmount)
			assert.True(t, tt.want.ServiceCharge.Equal(got.ServiceCharge), "service %s", got.ServiceCharge)
			assert.True(t, tt.want.DeliveryFee.Equal(got.DeliveryFee), "delivery %s", got.DeliveryFee)
			assert.True(t, tt.want.Discount.Equal(got.Discount), "discount %s", got.Discount)
			assert.True(t, tt.want.Total.Equal(got.Total), "total %s", got.Total)
		})
	}
}

func TestEngine_TotalIsSumOfRoundedParts(t *testing.T) {
	engine := NewEngine(PricingConfig{
		TaxRate:     dec("0.0825"),
		ServiceRate: dec("0.125"),
		DeliveryFee: dec("2.499"),
	})
	prices := []string{"0.99", "3.333", "12.495", "7.10", "19.999"}

	for _, typ := range []Type{TypeDineIn, TypeTakeaway, TypeDelivery, TypeRoomService} {
		for qty := 1; qty <= 7; qty++ {
			var lines []Line
			for _, p := range prices {
				lines = append(lines, Line{UnitPrice: dec(p), Quantity: qty})
			}
			got := engine.Compute(lines, typ, Discount{Percentage: dec("7.5")})

			for _, part := range []decimal.Decimal{got.Subtotal, got.TaxAmount, got.ServiceCharge, got.DeliveryFee, got.Discount} {
				assert.True(t, part.Equal(part.Round(2)), "%s not rounded to cents", part)
			}
			sum := got.Subtotal.Add(got.TaxAmount).Add(got.ServiceCharge).Add(got.DeliveryFee).Sub(got.Discount)
			assert.True(t, sum.Equal(got.Total), "%s: %s != %s", typ, sum, got.Total)
		}
	}
}
