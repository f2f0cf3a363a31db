package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/coupon-rules-service/internal/domain/coupon"
)

// ApplicableCoupons handles POST /api/applicable-coupons: it evaluates every
// stored coupon against the submitted cart and returns the applicable ones
// with their computed discounts, in storage order.
func (h *Handler) ApplicableCoupons(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	coupons, err := h.repo.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	matches, err := h.engine.ListApplicable(toDomainCart(req.Cart), coupons)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := applicableCouponsResponse{
		ApplicableCoupons: make([]applicableCouponPayload, len(matches)),
	}
	for i, m := range matches {
		resp.ApplicableCoupons[i] = applicableCouponPayload{
			CouponID: m.Coupon.ID,
			Code:     m.Coupon.Code,
			Type:     string(m.Coupon.Type),
			Discount: m.Discount.TotalDiscount.InexactFloat64(),
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// ApplyCoupon handles POST /api/apply-coupon/{id}: it runs the full engine
// pipeline for one coupon, persists the advanced usage counter through the
// repository's atomic guard, and returns the discounted cart.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	c, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("coupon.code", c.Code),
		attribute.String("coupon.type", string(c.Type)),
	)

	applied, err := h.engine.Apply(toDomainCart(req.Cart), c)
	if err != nil {
		var notApplicable *coupon.NotApplicableError
		if errors.As(err, &notApplicable) {
			h.metrics.recordRejection(r.Context(), string(notApplicable.Reason))
		}
		respondError(w, r, err)
		return
	}

	// Commit the usage counter. The conditional UPDATE re-checks the limit,
	// so a concurrent application that got here first loses the race cleanly.
	if _, err := h.repo.IncrementUsage(r.Context(), c.ID); err != nil {
		respondError(w, r, err)
		return
	}

	h.metrics.recordApplication(r.Context(), string(c.Type))
	respondJSON(w, http.StatusOK, applyCouponResponse{
		UpdatedCart: toUpdatedCartPayload(applied),
	})
}
