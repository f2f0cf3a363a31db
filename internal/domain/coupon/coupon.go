// Package coupon implements the discount rule engine: deciding whether a
// coupon applies to a cart, computing the monetary effect of applying it, and
// gating application on the coupon's lifecycle (activation, expiry, usage
// limits). The engine is pure; storage and transport live elsewhere.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon rule variants.
type Type string

const (
	// TypeCartWise discounts the whole cart once its total meets a threshold.
	TypeCartWise Type = "cart-wise"
	// TypeProductWise discounts a single product's line items.
	TypeProductWise Type = "product-wise"
	// TypeBxGy grants free units of "get" products after a pooled quantity
	// of "buy" products is purchased.
	TypeBxGy Type = "bxgy"
)

var (
	// ErrNotFound is returned when a coupon id or code does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeExists is returned when creating or updating a coupon would
	// violate code uniqueness.
	ErrCodeExists = errors.New("coupon code already exists")
	// ErrUsageLimitReached is returned by the lifecycle gate when the usage
	// counter re-check fails at commit time.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
)

// CartWiseDetails parameterizes a cart-wide threshold discount.
type CartWiseDetails struct {
	Threshold       decimal.Decimal
	DiscountPercent decimal.Decimal
}

// ProductWiseDetails parameterizes a single-product percentage discount.
type ProductWiseDetails struct {
	ProductID       string
	DiscountPercent decimal.Decimal
}

// BxGyLine pairs a product with a unit quantity inside a BxGy rule.
type BxGyLine struct {
	ProductID string
	Quantity  int
}

// BxGyDetails parameterizes a buy-X-get-Y rule. Buy products share one unit
// pool: any mix of the listed products counts toward the set requirement.
// RepetitionLimit caps how many reward sets a single application may grant;
// zero means uncapped. It is distinct from Coupon.RepetitionLimit, which
// bounds how many times the coupon code may be used overall.
type BxGyDetails struct {
	BuyProducts     []BxGyLine
	GetProducts     []BxGyLine
	RepetitionLimit int
}

// Coupon is a persisted discount rule. Exactly one of the details fields is
// non-nil, matching Type.
type Coupon struct {
	ID          string
	Code        string
	Type        Type
	CartWise    *CartWiseDetails
	ProductWise *ProductWiseDetails
	BxGy        *BxGyDetails

	IsActive bool
	// ExpiresAt is a UTC instant; a zero value means the coupon never expires.
	ExpiresAt time.Time
	// RepetitionLimit bounds total uses of the code; zero means unlimited.
	RepetitionLimit int
	TimesUsed       int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem is one line of the shopper's cart.
type CartItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineTotal returns quantity x unit price for this item.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is an ordered, immutable snapshot of the shopper's cart. The engine
// never mutates it; applying a coupon returns a new discounted view.
type Cart struct {
	Items []CartItem
}

// Subtotal returns the sum of line totals across all items.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// DiscountResult is the line-item-level breakdown produced by the calculator.
type DiscountResult struct {
	// PerItem maps cart item index to that item's discount. Always the same
	// length as the cart and sums exactly to TotalDiscount.
	PerItem []decimal.Decimal
	// TotalDiscount is the full monetary effect, rounded to 2 decimal places.
	TotalDiscount decimal.Decimal
	// FreeItems lists the units a BxGy rule granted free, priced at zero.
	// Empty for the other variants and when partial fulfillment grants nothing.
	FreeItems []CartItem
}

// AppliedItem is a cart line annotated with its share of the discount.
type AppliedItem struct {
	CartItem
	Discount decimal.Decimal
}

// AppliedCart is the discounted view of a cart after a coupon is applied.
type AppliedCart struct {
	Items         []AppliedItem
	FreeItems     []CartItem
	TotalPrice    decimal.Decimal
	TotalDiscount decimal.Decimal
	FinalPrice    decimal.Decimal
	// NewTimesUsed is the post-application usage counter the caller must
	// persist. Evaluation itself never writes anywhere.
	NewTimesUsed int
}

// Repository provides persistence of coupon records. Implementations own code
// uniqueness and the atomicity of the usage counter increment.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	List(ctx context.Context) ([]Coupon, error)
	GetByID(ctx context.Context, id string) (*Coupon, error)
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error
	// IncrementUsage bumps times_used by one, guarded by the repetition
	// limit, and returns the new counter value. Returns ErrUsageLimitReached
	// when the guard rejects the increment.
	IncrementUsage(ctx context.Context, id string) (int, error)
}
