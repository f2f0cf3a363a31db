package coupon

import (
	"time"
)

// Engine orchestrates eligibility, calculation, and the lifecycle gate. It is
// stateless apart from the injected clock and safe for concurrent use.
type Engine struct {
	now func() time.Time
}

// NewEngine creates an Engine reading time from the real clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineAt creates an Engine with an injected clock, for tests and for
// callers that pin evaluation to a request timestamp.
func NewEngineAt(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Match pairs an applicable coupon with its computed discount.
type Match struct {
	Coupon   Coupon
	Discount DiscountResult
}

// ListApplicable evaluates every coupon against the cart and returns the
// applicable ones with their discounts, preserving input order. Ranking is
// the caller's concern.
func (e *Engine) ListApplicable(cart Cart, coupons []Coupon) ([]Match, error) {
	if err := ValidateCart(cart); err != nil {
		return nil, err
	}

	now := e.now()
	var matches []Match
	for _, c := range coupons {
		if !IsApplicable(&c, cart, now).Applicable {
			continue
		}
		result, err := Calculate(&c, cart)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{Coupon: c, Discount: result})
	}
	return matches, nil
}

// Apply runs the full pipeline for one coupon: eligibility, calculation,
// lifecycle gate. It fails fast at the first stage that rejects, returning
// that stage's specific reason, and never returns a partial result.
func (e *Engine) Apply(cart Cart, c *Coupon) (*AppliedCart, error) {
	if err := ValidateCart(cart); err != nil {
		return nil, err
	}

	if outcome := IsApplicable(c, cart, e.now()); !outcome.Applicable {
		return nil, &NotApplicableError{Reason: outcome.Reason}
	}

	result, err := Calculate(c, cart)
	if err != nil {
		return nil, err
	}

	newTimesUsed, err := Advance(c)
	if err != nil {
		return nil, err
	}

	items := make([]AppliedItem, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = AppliedItem{CartItem: item, Discount: result.PerItem[i]}
	}

	totalPrice := round2(cart.Subtotal())
	return &AppliedCart{
		Items:         items,
		FreeItems:     result.FreeItems,
		TotalPrice:    totalPrice,
		TotalDiscount: result.TotalDiscount,
		FinalPrice:    totalPrice.Sub(result.TotalDiscount),
		NewTimesUsed:  newTimesUsed,
	}, nil
}
