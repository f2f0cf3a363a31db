package coupon

import (
	"fmt"
	"time"
)

// Reason identifies why a coupon is not applicable to a cart.
type Reason string

const (
	ReasonInactive                Reason = "inactive"
	ReasonExpired                 Reason = "expired"
	ReasonUsageLimitReached       Reason = "usage_limit_reached"
	ReasonThresholdNotMet         Reason = "threshold_not_met"
	ReasonProductNotInCart        Reason = "product_not_in_cart"
	ReasonInsufficientBuyQuantity Reason = "insufficient_buy_quantity"
)

// Outcome is the tagged result of an eligibility check.
type Outcome struct {
	Applicable bool
	Reason     Reason
}

// NotApplicableError carries an eligibility rejection across the engine
// boundary. It is a business outcome, not a defect.
type NotApplicableError struct {
	Reason Reason
}

func (e *NotApplicableError) Error() string {
	return fmt.Sprintf("coupon not applicable: %s", e.Reason)
}

var applicable = Outcome{Applicable: true}

func notApplicable(r Reason) Outcome {
	return Outcome{Reason: r}
}

// IsApplicable decides whether c may be applied to cart at instant now.
// Lifecycle preconditions are checked first, identically for every variant,
// short-circuiting on the first failure; the variant predicate runs last.
func IsApplicable(c *Coupon, cart Cart, now time.Time) Outcome {
	if !c.IsActive {
		return notApplicable(ReasonInactive)
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return notApplicable(ReasonExpired)
	}
	if c.RepetitionLimit > 0 && c.TimesUsed >= c.RepetitionLimit {
		return notApplicable(ReasonUsageLimitReached)
	}

	switch c.Type {
	case TypeCartWise:
		if cart.Subtotal().LessThan(c.CartWise.Threshold) {
			return notApplicable(ReasonThresholdNotMet)
		}
	case TypeProductWise:
		if !cartContains(cart, c.ProductWise.ProductID) {
			return notApplicable(ReasonProductNotInCart)
		}
	case TypeBxGy:
		if pooledBuyUnits(cart, c.BxGy) < setSize(c.BxGy) {
			return notApplicable(ReasonInsufficientBuyQuantity)
		}
	}
	return applicable
}

func cartContains(cart Cart, productID string) bool {
	for _, item := range cart.Items {
		if item.ProductID == productID && item.Quantity > 0 {
			return true
		}
	}
	return false
}

// pooledBuyUnits sums cart quantities across every listed buy product. The
// buy requirement is a single shared pool: satisfying it entirely from one
// listed product is as valid as spreading it across several.
func pooledBuyUnits(cart Cart, d *BxGyDetails) int {
	listed := make(map[string]struct{}, len(d.BuyProducts))
	for _, line := range d.BuyProducts {
		listed[line.ProductID] = struct{}{}
	}

	units := 0
	for _, item := range cart.Items {
		if _, ok := listed[item.ProductID]; ok {
			units += item.Quantity
		}
	}
	return units
}

// setSize returns the number of pooled units one full buy set requires.
func setSize(d *BxGyDetails) int {
	size := 0
	for _, line := range d.BuyProducts {
		size += line.Quantity
	}
	return size
}
