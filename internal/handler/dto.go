package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-rules-service/internal/domain/coupon"
)

// detailsPayload is the wire shape of the variant-specific coupon parameters.
// Which fields are meaningful depends on the coupon type; buildCoupon picks
// the matching subset and ValidateCoupon rejects leftovers.
type detailsPayload struct {
	Threshold       *decimal.Decimal `json:"threshold,omitempty"`
	Discount        *decimal.Decimal `json:"discount,omitempty"`
	ProductID       string           `json:"product_id,omitempty"`
	BuyProducts     []bxgyLine       `json:"buy_products,omitempty"`
	GetProducts     []bxgyLine       `json:"get_products,omitempty"`
	RepetitionLimit int              `json:"repetition_limit,omitempty"`
}

type bxgyLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createCouponRequest struct {
	Code            string          `json:"code"`
	Type            string          `json:"type"`
	Details         *detailsPayload `json:"details"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	IsActive        *bool           `json:"is_active,omitempty"`
	RepetitionLimit int             `json:"repetition_limit,omitempty"`
}

type updateCouponRequest struct {
	Code            *string         `json:"code,omitempty"`
	Type            *string         `json:"type,omitempty"`
	Details         *detailsPayload `json:"details,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	IsActive        *bool           `json:"is_active,omitempty"`
	RepetitionLimit *int            `json:"repetition_limit,omitempty"`
}

type couponResponse struct {
	ID              string         `json:"id"`
	Code            string         `json:"code"`
	Type            string         `json:"type"`
	Details         detailsPayload `json:"details"`
	IsActive        bool           `json:"is_active"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	RepetitionLimit int            `json:"repetition_limit,omitempty"`
	TimesUsed       int            `json:"times_used"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type cartItemPayload struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type cartPayload struct {
	Items []cartItemPayload `json:"items"`
}

type cartRequest struct {
	Cart cartPayload `json:"cart"`
}

type applicableCouponPayload struct {
	CouponID string  `json:"coupon_id"`
	Code     string  `json:"code"`
	Type     string  `json:"type"`
	Discount float64 `json:"discount"`
}

type applicableCouponsResponse struct {
	ApplicableCoupons []applicableCouponPayload `json:"applicable_coupons"`
}

type updatedCartItemPayload struct {
	ProductID     string  `json:"product_id"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	TotalDiscount float64 `json:"total_discount"`
}

type freeItemPayload struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type updatedCartPayload struct {
	Items         []updatedCartItemPayload `json:"items"`
	FreeItems     []freeItemPayload        `json:"free_items,omitempty"`
	TotalPrice    float64                  `json:"total_price"`
	TotalDiscount float64                  `json:"total_discount"`
	FinalPrice    float64                  `json:"final_price"`
}

type applyCouponResponse struct {
	UpdatedCart updatedCartPayload `json:"updated_cart"`
}

// toDomainCart converts the wire cart to the engine's immutable snapshot.
func toDomainCart(p cartPayload) coupon.Cart {
	items := make([]coupon.CartItem, len(p.Items))
	for i, item := range p.Items {
		items[i] = coupon.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		}
	}
	return coupon.Cart{Items: items}
}

// applyDetails copies the variant payload matching typ onto c, leaving the
// other detail pointers nil. An absent payload is left for ValidateCoupon to
// reject.
func applyDetails(c *coupon.Coupon, typ coupon.Type, p *detailsPayload) {
	c.Type = typ
	c.CartWise = nil
	c.ProductWise = nil
	c.BxGy = nil
	if p == nil {
		return
	}

	switch typ {
	case coupon.TypeCartWise:
		if p.Threshold == nil || p.Discount == nil {
			return
		}
		c.CartWise = &coupon.CartWiseDetails{
			Threshold:       *p.Threshold,
			DiscountPercent: *p.Discount,
		}
	case coupon.TypeProductWise:
		if p.Discount == nil {
			return
		}
		c.ProductWise = &coupon.ProductWiseDetails{
			ProductID:       p.ProductID,
			DiscountPercent: *p.Discount,
		}
	case coupon.TypeBxGy:
		c.BxGy = &coupon.BxGyDetails{
			BuyProducts:     toDomainBxGyLines(p.BuyProducts),
			GetProducts:     toDomainBxGyLines(p.GetProducts),
			RepetitionLimit: p.RepetitionLimit,
		}
	}
}

func toDomainBxGyLines(lines []bxgyLine) []coupon.BxGyLine {
	if lines == nil {
		return nil
	}
	out := make([]coupon.BxGyLine, len(lines))
	for i, line := range lines {
		out[i] = coupon.BxGyLine{ProductID: line.ProductID, Quantity: line.Quantity}
	}
	return out
}

func toCouponResponse(c *coupon.Coupon) couponResponse {
	resp := couponResponse{
		ID:              c.ID,
		Code:            c.Code,
		Type:            string(c.Type),
		IsActive:        c.IsActive,
		RepetitionLimit: c.RepetitionLimit,
		TimesUsed:       c.TimesUsed,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if !c.ExpiresAt.IsZero() {
		expires := c.ExpiresAt
		resp.ExpiresAt = &expires
	}

	switch c.Type {
	case coupon.TypeCartWise:
		resp.Details.Threshold = &c.CartWise.Threshold
		resp.Details.Discount = &c.CartWise.DiscountPercent
	case coupon.TypeProductWise:
		resp.Details.ProductID = c.ProductWise.ProductID
		resp.Details.Discount = &c.ProductWise.DiscountPercent
	case coupon.TypeBxGy:
		resp.Details.BuyProducts = toWireBxGyLines(c.BxGy.BuyProducts)
		resp.Details.GetProducts = toWireBxGyLines(c.BxGy.GetProducts)
		resp.Details.RepetitionLimit = c.BxGy.RepetitionLimit
	}
	return resp
}

func toWireBxGyLines(lines []coupon.BxGyLine) []bxgyLine {
	out := make([]bxgyLine, len(lines))
	for i, line := range lines {
		out[i] = bxgyLine{ProductID: line.ProductID, Quantity: line.Quantity}
	}
	return out
}

func toUpdatedCartPayload(applied *coupon.AppliedCart) updatedCartPayload {
	items := make([]updatedCartItemPayload, len(applied.Items))
	for i, item := range applied.Items {
		items[i] = updatedCartItemPayload{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			Price:         item.UnitPrice.InexactFloat64(),
			TotalDiscount: item.Discount.InexactFloat64(),
		}
	}

	var free []freeItemPayload
	for _, item := range applied.FreeItems {
		free = append(free, freeItemPayload{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     0,
		})
	}

	return updatedCartPayload{
		Items:         items,
		FreeItems:     free,
		TotalPrice:    applied.TotalPrice.InexactFloat64(),
		TotalDiscount: applied.TotalDiscount.InexactFloat64(),
		FinalPrice:    applied.FinalPrice.InexactFloat64(),
	}
}
