package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// round2 rounds a monetary amount to 2 decimal places, half up. Rounding
// happens only at the point of output, never during accumulation.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Calculate computes the discount breakdown for an applicable coupon. It is
// pure and deterministic; callers are expected to have passed IsApplicable
// first, but the function degrades to a zero discount rather than panicking
// when they have not.
func Calculate(c *Coupon, cart Cart) (DiscountResult, error) {
	switch c.Type {
	case TypeCartWise:
		return calcCartWise(c.CartWise, cart), nil
	case TypeProductWise:
		return calcProductWise(c.ProductWise, cart), nil
	case TypeBxGy:
		return calcBxGy(c.BxGy, cart), nil
	default:
		return DiscountResult{}, errors.Errorf("unsupported coupon type: %q", c.Type)
	}
}

// calcCartWise distributes a whole-cart percentage discount across items in
// proportion to each item's share of the subtotal. Per-item rounding can
// drift from the rounded total by a few cents, so the residual is folded
// into the last item to keep the sum exact.
func calcCartWise(d *CartWiseDetails, cart Cart) DiscountResult {
	perItem := make([]decimal.Decimal, len(cart.Items))
	for i := range perItem {
		perItem[i] = decimal.Zero
	}

	subtotal := cart.Subtotal()
	if subtotal.IsZero() || len(cart.Items) == 0 {
		return DiscountResult{PerItem: perItem, TotalDiscount: decimal.Zero}
	}

	total := round2(subtotal.Mul(d.DiscountPercent).Div(hundred))

	distributed := decimal.Zero
	for i, item := range cart.Items {
		share := round2(total.Mul(item.LineTotal()).Div(subtotal))
		perItem[i] = share
		distributed = distributed.Add(share)
	}

	last := len(perItem) - 1
	perItem[last] = perItem[last].Add(total.Sub(distributed))

	return DiscountResult{PerItem: perItem, TotalDiscount: total}
}

func calcProductWise(d *ProductWiseDetails, cart Cart) DiscountResult {
	perItem := make([]decimal.Decimal, len(cart.Items))
	total := decimal.Zero

	for i, item := range cart.Items {
		if item.ProductID != d.ProductID {
			perItem[i] = decimal.Zero
			continue
		}
		discount := round2(item.LineTotal().Mul(d.DiscountPercent).Div(hundred))
		perItem[i] = discount
		total = total.Add(discount)
	}

	return DiscountResult{PerItem: perItem, TotalDiscount: total}
}

// calcBxGy grants free units of the configured get-products, one reward set
// per satisfied buy set. Only units already present in the cart are zeroed
// out; a shortfall in the cart's get-product quantity is silently dropped
// (partial fulfillment, no inventory awareness).
func calcBxGy(d *BxGyDetails, cart Cart) DiscountResult {
	perItem := make([]decimal.Decimal, len(cart.Items))
	for i := range perItem {
		perItem[i] = decimal.Zero
	}
	result := DiscountResult{PerItem: perItem, TotalDiscount: decimal.Zero}

	size := setSize(d)
	if size == 0 {
		return result
	}

	setsAvailable := pooledBuyUnits(cart, d) / size
	setsApplied := setsAvailable
	if d.RepetitionLimit > 0 && setsApplied > d.RepetitionLimit {
		setsApplied = d.RepetitionLimit
	}
	if setsApplied == 0 {
		return result
	}

	for _, get := range d.GetProducts {
		desired := setsApplied * get.Quantity

		for i, item := range cart.Items {
			if item.ProductID != get.ProductID || desired == 0 {
				continue
			}

			granted := min(desired, item.Quantity)
			desired -= granted

			discount := round2(item.UnitPrice.Mul(decimal.NewFromInt(int64(granted))))
			perItem[i] = perItem[i].Add(discount)
			result.TotalDiscount = result.TotalDiscount.Add(discount)
			result.FreeItems = append(result.FreeItems, CartItem{
				ProductID: get.ProductID,
				Quantity:  granted,
				UnitPrice: decimal.Zero,
			})
		}
	}

	return result
}
