package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEngine() *Engine {
	return NewEngineAt(func() time.Time { return testNow })
}

func TestEngineListApplicable(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: d("50")},
		{ProductID: "p2", Quantity: 1, UnitPrice: d("50")},
	}}

	first := cartWise("100", "10")
	first.ID = "a"
	skipped := cartWise("500", "50")
	skipped.ID = "b"
	second := productWise("p2", "20")
	second.ID = "c"
	expired := expiring(cartWise("0", "5"), testNow.Add(-time.Hour))
	expired.ID = "d"

	matches, err := fixedEngine().ListApplicable(cart, []Coupon{*first, *skipped, *second, *expired})
	require.NoError(t, err)

	// Input order preserved, non-applicable coupons filtered out.
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Coupon.ID)
	assert.Equal(t, "c", matches[1].Coupon.ID)
	assert.True(t, d("15.00").Equal(matches[0].Discount.TotalDiscount))
	assert.True(t, d("10.00").Equal(matches[1].Discount.TotalDiscount))
}

func TestEngineListApplicableRejectsBadCart(t *testing.T) {
	cart := Cart{Items: []CartItem{{ProductID: "p1", Quantity: 0, UnitPrice: d("10")}}}

	_, err := fixedEngine().ListApplicable(cart, nil)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "items[0].quantity", verr.Field)
}

func TestEngineApply(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: d("50")},
		{ProductID: "p2", Quantity: 1, UnitPrice: d("50")},
	}}
	coupon := cartWise("100", "10")
	coupon.RepetitionLimit = 5
	coupon.TimesUsed = 2

	applied, err := fixedEngine().Apply(cart, coupon)
	require.NoError(t, err)

	assert.True(t, d("150.00").Equal(applied.TotalPrice))
	assert.True(t, d("15.00").Equal(applied.TotalDiscount))
	assert.True(t, d("135.00").Equal(applied.FinalPrice))
	assert.Equal(t, 3, applied.NewTimesUsed)

	require.Len(t, applied.Items, 2)
	assert.True(t, d("10.00").Equal(applied.Items[0].Discount))
	assert.True(t, d("5.00").Equal(applied.Items[1].Discount))

	// The caller's cart snapshot is untouched.
	assert.Equal(t, 2, coupon.TimesUsed)
	assert.True(t, d("50").Equal(cart.Items[0].UnitPrice))
}

func TestEngineApplyNotApplicable(t *testing.T) {
	cart := Cart{Items: []CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: d("10")}}}

	_, err := fixedEngine().Apply(cart, cartWise("100", "10"))

	var naErr *NotApplicableError
	require.ErrorAs(t, err, &naErr)
	assert.Equal(t, ReasonThresholdNotMet, naErr.Reason)
}

// A coupon at its usage limit is rejected by the eligibility check, and a
// coupon that reaches the limit between check and commit is rejected by the
// gate. Both paths must hold.
func TestUsageGateBothStages(t *testing.T) {
	cart := Cart{Items: []CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: d("200")}}}

	exhausted := cartWise("100", "10")
	exhausted.RepetitionLimit = 1
	exhausted.TimesUsed = 1

	outcome := IsApplicable(exhausted, cart, testNow)
	assert.False(t, outcome.Applicable)
	assert.Equal(t, ReasonUsageLimitReached, outcome.Reason)

	_, err := Advance(exhausted)
	require.ErrorIs(t, err, ErrUsageLimitReached)
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		used    int
		want    int
		wantErr bool
	}{
		{name: "unlimited keeps counting", limit: 0, used: 41, want: 42},
		{name: "under limit increments", limit: 3, used: 2, want: 3},
		{name: "at limit rejected", limit: 3, used: 3, wantErr: true},
		{name: "first use", limit: 1, used: 0, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Advance(&Coupon{RepetitionLimit: tt.limit, TimesUsed: tt.used})
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUsageLimitReached)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngineApplyBxGyPartialFulfillment(t *testing.T) {
	coupon := bxgy(
		[]BxGyLine{{ProductID: "1", Quantity: 3}, {ProductID: "2", Quantity: 3}},
		[]BxGyLine{{ProductID: "3", Quantity: 1}},
		0,
	)
	cart := Cart{Items: []CartItem{
		{ProductID: "1", Quantity: 7, UnitPrice: d("10")},
		{ProductID: "2", Quantity: 2, UnitPrice: d("10")},
	}}

	// Eligible (one full set), but the get-product is absent, so nothing is
	// granted and the final price equals the subtotal.
	applied, err := fixedEngine().Apply(cart, coupon)
	require.NoError(t, err)

	assert.Empty(t, applied.FreeItems)
	assert.True(t, applied.TotalDiscount.IsZero())
	assert.True(t, applied.TotalPrice.Equal(applied.FinalPrice))
}

func TestAppliedCartTotalsConsistent(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{ProductID: "p1", Quantity: 3, UnitPrice: d("19.99")},
		{ProductID: "p2", Quantity: 2, UnitPrice: d("7.49")},
		{ProductID: "p3", Quantity: 1, UnitPrice: d("3.33")},
	}}

	applied, err := fixedEngine().Apply(cart, cartWise("0", "12.5"))
	require.NoError(t, err)

	sum := decimal.Zero
	for _, item := range applied.Items {
		sum = sum.Add(item.Discount)
	}
	assert.True(t, sum.Equal(applied.TotalDiscount))
	assert.True(t, applied.TotalPrice.Sub(applied.TotalDiscount).Equal(applied.FinalPrice))
}
