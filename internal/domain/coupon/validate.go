package coupon

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports a malformed cart or coupon payload. It is raised
// before any rule evaluation runs.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

const (
	minCodeLen = 4
	maxCodeLen = 50
)

// ValidateCode checks that a coupon code is alphanumeric and within length
// bounds. Codes are matched case-insensitively; uniqueness is enforced by
// storage.
func ValidateCode(code string) error {
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return invalid("code", "must be between %d and %d characters", minCodeLen, maxCodeLen)
	}
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return invalid("code", "must contain only letters and digits")
		}
	}
	return nil
}

// ValidateCoupon checks a coupon record for structural soundness: a valid
// code, a known type tag, and exactly the matching details payload with
// in-range parameters.
func ValidateCoupon(c *Coupon) error {
	if err := ValidateCode(c.Code); err != nil {
		return err
	}

	switch c.Type {
	case TypeCartWise:
		if c.CartWise == nil {
			return invalid("details", "cart-wise coupon requires threshold and discount")
		}
		if c.ProductWise != nil || c.BxGy != nil {
			return invalid("details", "cart-wise coupon carries foreign payload")
		}
		if c.CartWise.Threshold.IsNegative() {
			return invalid("details.threshold", "must not be negative")
		}
		if err := validatePercent(c.CartWise.DiscountPercent); err != nil {
			return err
		}
	case TypeProductWise:
		if c.ProductWise == nil {
			return invalid("details", "product-wise coupon requires product_id and discount")
		}
		if c.CartWise != nil || c.BxGy != nil {
			return invalid("details", "product-wise coupon carries foreign payload")
		}
		if c.ProductWise.ProductID == "" {
			return invalid("details.product_id", "must not be empty")
		}
		if err := validatePercent(c.ProductWise.DiscountPercent); err != nil {
			return err
		}
	case TypeBxGy:
		if c.BxGy == nil {
			return invalid("details", "bxgy coupon requires buy_products and get_products")
		}
		if c.CartWise != nil || c.ProductWise != nil {
			return invalid("details", "bxgy coupon carries foreign payload")
		}
		if err := validateLines("details.buy_products", c.BxGy.BuyProducts); err != nil {
			return err
		}
		if err := validateLines("details.get_products", c.BxGy.GetProducts); err != nil {
			return err
		}
		if c.BxGy.RepetitionLimit < 0 {
			return invalid("details.repetition_limit", "must not be negative")
		}
	default:
		return invalid("type", "unknown coupon type %q", c.Type)
	}

	if c.RepetitionLimit < 0 {
		return invalid("repetition_limit", "must not be negative")
	}
	if c.TimesUsed < 0 {
		return invalid("times_used", "must not be negative")
	}
	if c.RepetitionLimit > 0 && c.TimesUsed > c.RepetitionLimit {
		return invalid("times_used", "must not exceed repetition_limit")
	}
	return nil
}

// ValidateCart checks the cart snapshot invariants: positive quantities,
// non-negative prices, non-empty product ids.
func ValidateCart(cart Cart) error {
	for i, item := range cart.Items {
		if item.ProductID == "" {
			return invalid(fmt.Sprintf("items[%d].product_id", i), "must not be empty")
		}
		if item.Quantity <= 0 {
			return invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than 0")
		}
		if item.UnitPrice.IsNegative() {
			return invalid(fmt.Sprintf("items[%d].price", i), "must not be negative")
		}
	}
	return nil
}

func validatePercent(p decimal.Decimal) error {
	if !p.IsPositive() || p.GreaterThan(decimal.NewFromInt(100)) {
		return invalid("details.discount", "must be between 0 and 100")
	}
	return nil
}

func validateLines(field string, lines []BxGyLine) error {
	if len(lines) == 0 {
		return invalid(field, "must not be empty")
	}
	for i, line := range lines {
		if line.ProductID == "" {
			return invalid(fmt.Sprintf("%s[%d].product_id", field, i), "must not be empty")
		}
		if line.Quantity <= 0 {
			return invalid(fmt.Sprintf("%s[%d].quantity", field, i), "must be greater than 0")
		}
	}
	return nil
}
