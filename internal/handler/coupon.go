package handler

import (
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xenking/coupon-rules-service/internal/domain/coupon"
)

// CreateCoupon handles POST /api/coupons. Expiry defaults to 24 hours from
// now when omitted; activation defaults to true.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	now := h.now().UTC()
	c := &coupon.Coupon{
		ID:              uuid.New().String(),
		Code:            req.Code,
		IsActive:        true,
		ExpiresAt:       now.Add(defaultExpiry),
		RepetitionLimit: req.RepetitionLimit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.ExpiresAt != nil {
		c.ExpiresAt = req.ExpiresAt.UTC()
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	applyDetails(c, coupon.Type(req.Type), req.Details)

	if err := coupon.ValidateCoupon(c); err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.repo.Create(r.Context(), c); err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toCouponResponse(c))
}

// ListCoupons handles GET /api/coupons.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.repo.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := make([]couponResponse, len(coupons))
	for i := range coupons {
		resp[i] = toCouponResponse(&coupons[i])
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetCoupon handles GET /api/coupons/{id}.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCouponResponse(c))
}

// GetCouponByCode handles GET /api/coupons/code/{code}. Lookup is
// case-insensitive.
func (h *Handler) GetCouponByCode(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCouponResponse(c))
}

// UpdateCoupon handles PUT /api/coupons/{id}. Absent fields keep their
// stored values; a new details payload replaces the old one wholesale.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req updateCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	c, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	if req.Code != nil {
		c.Code = *req.Code
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}
	if req.ExpiresAt != nil {
		c.ExpiresAt = req.ExpiresAt.UTC()
	}
	if req.RepetitionLimit != nil {
		c.RepetitionLimit = *req.RepetitionLimit
	}
	if req.Type != nil || req.Details != nil {
		typ := c.Type
		if req.Type != nil {
			typ = coupon.Type(*req.Type)
		}
		applyDetails(c, typ, req.Details)
	}
	c.UpdatedAt = h.now().UTC()

	if err := coupon.ValidateCoupon(c); err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.repo.Update(r.Context(), c); err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCouponResponse(c))
}

// DeleteCoupon handles DELETE /api/coupons/{id}.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// couponStatsResponse reports a coupon's usage state. The repetition fields
// are populated only for coupons that carry a usage limit.
type couponStatsResponse struct {
	CouponID        string     `json:"coupon_id"`
	Code            string     `json:"code"`
	Type            string     `json:"type"`
	IsActive        bool       `json:"is_active"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	TimesUsed       int        `json:"times_used"`
	RepetitionLimit int        `json:"repetition_limit,omitempty"`
	UsagePercentage float64    `json:"usage_percentage,omitempty"`
	RemainingUses   *int       `json:"remaining_uses,omitempty"`
	IsExhausted     bool       `json:"is_exhausted"`
}

// CouponStats handles GET /api/coupons/{id}/stats.
func (h *Handler) CouponStats(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := couponStatsResponse{
		CouponID:  c.ID,
		Code:      c.Code,
		Type:      string(c.Type),
		IsActive:  c.IsActive,
		TimesUsed: c.TimesUsed,
	}
	if !c.ExpiresAt.IsZero() {
		expires := c.ExpiresAt
		resp.ExpiresAt = &expires
	}
	if c.RepetitionLimit > 0 {
		remaining := c.RepetitionLimit - c.TimesUsed
		pct := float64(c.TimesUsed) / float64(c.RepetitionLimit) * 100
		resp.RepetitionLimit = c.RepetitionLimit
		resp.UsagePercentage = math.Round(pct*100) / 100
		resp.RemainingUses = &remaining
		resp.IsExhausted = c.TimesUsed >= c.RepetitionLimit
	}

	respondJSON(w, http.StatusOK, resp)
}
