package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pillshop/internal/domain/catalog"
)

func TestResolver_Resolve(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)
	catID := int64(9)

	shirt := catalog.Product{ID: 1, Name: "shirt", CategoryID: &catID, Price: decimal.NewFromInt(100)}
	loose := catalog.Product{ID: 2, Name: "loose", Price: decimal.RequireFromString("19.99")}

	active := func(id int64, target catalog.DiscountTarget, pct string) catalog.Discount {
		return catalog.Discount{ID: id, Target: target, Percent: decimal.RequireFromString(pct), Start: past, End: future}
	}

	tests := []struct {
		name      string
		product   catalog.Product
		discounts []catalog.Discount
		policy    Policy
		want      string
	}{
		{
			name:    "no discounts keeps base price",
			product: shirt,
			want:    "100",
		},
		{
			name:      "active product discount",
			product:   shirt,
			discounts: []catalog.Discount{active(1, catalog.ProductTarget(1), "20")},
			want:      "80",
		},
		{
			name:      "active category discount",
			product:   shirt,
			discounts: []catalog.Discount{active(1, catalog.CategoryTarget(catID), "30")},
			want:      "70",
		},
		{
			name:    "lower of product and category wins",
			product: shirt,
			discounts: []catalog.Discount{
				active(1, catalog.ProductTarget(1), "20"),
				active(2, catalog.CategoryTarget(catID), "30"),
			},
			want: "70",
		},
		{
			name:    "lower of product and category wins the other way",
			product: shirt,
			discounts: []catalog.Discount{
				active(1, catalog.ProductTarget(1), "40"),
				active(2, catalog.CategoryTarget(catID), "30"),
			},
			want: "60",
		},
		{
			name:    "expired and future discounts are ignored",
			product: shirt,
			discounts: []catalog.Discount{
				{ID: 1, Target: catalog.ProductTarget(1), Percent: decimal.NewFromInt(50), Start: past.Add(-time.Hour), End: past},
				{ID: 2, Target: catalog.ProductTarget(1), Percent: decimal.NewFromInt(50), Start: future, End: future.Add(time.Hour)},
			},
			want: "100",
		},
		{
			name:    "window bounds are inclusive",
			product: shirt,
			discounts: []catalog.Discount{
				{ID: 1, Target: catalog.ProductTarget(1), Percent: decimal.NewFromInt(10), Start: now, End: now},
			},
			want: "90",
		},
		{
			name:    "discounts for other products are ignored",
			product: shirt,
			discounts: []catalog.Discount{
				active(1, catalog.ProductTarget(2), "50"),
				active(2, catalog.CategoryTarget(catID+1), "50"),
			},
			want: "100",
		},
		{
			name:      "full discount floors at zero",
			product:   shirt,
			discounts: []catalog.Discount{active(1, catalog.ProductTarget(1), "100")},
			want:      "0",
		},
		{
			name:      "result is rounded to cents",
			product:   loose,
			discounts: []catalog.Discount{active(1, catalog.ProductTarget(2), "15")},
			want:      "16.99",
		},
		{
			name:      "fractional percent",
			product:   shirt,
			discounts: []catalog.Discount{active(1, catalog.ProductTarget(1), "12.5")},
			want:      "87.5",
		},
		{
			name:      "fractional percent rounds to cents",
			product:   loose,
			discounts: []catalog.Discount{active(1, catalog.ProductTarget(2), "33.33")},
			want:      "13.33",
		},
		{
			name:    "deepest policy compares fractional percents",
			product: shirt,
			discounts: []catalog.Discount{
				active(5, catalog.ProductTarget(1), "12.25"),
				active(3, catalog.ProductTarget(1), "12.5"),
			},
			policy: PolicyDeepest,
			want:   "87.5",
		},
		{
			name:    "last created wins by default",
			product: shirt,
			discounts: []catalog.Discount{
				active(5, catalog.ProductTarget(1), "10"),
				active(3, catalog.ProductTarget(1), "50"),
			},
			want: "90",
		},
		{
			name:    "deepest policy picks largest percent",
			product: shirt,
			discounts: []catalog.Discount{
				active(5, catalog.ProductTarget(1), "10"),
				active(3, catalog.ProductTarget(1), "50"),
			},
			policy: PolicyDeepest,
			want:   "50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.policy)
			got := r.Resolve(tt.product, tt.discounts, now)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got),
				"expected %s, got %s", tt.want, got)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyLastCreated, p)

	p, err = ParsePolicy("deepest")
	require.NoError(t, err)
	assert.Equal(t, PolicyDeepest, p)

	_, err = ParsePolicy("random")
	require.Error(t, err)
}
