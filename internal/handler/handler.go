// Package handler exposes the coupon engine and repository over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/coupon-rules-service/internal/domain/coupon"
)

// defaultExpiry is applied when a coupon is created without an expiry.
const defaultExpiry = 24 * time.Hour

// Handler serves the coupon API, delegating business logic to the engine and
// persistence to the repository.
type Handler struct {
	repo    coupon.Repository
	engine  *coupon.Engine
	metrics *Metrics
	now     func() time.Time
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(repo coupon.Repository, engine *coupon.Engine, metrics *Metrics) *Handler {
	return &Handler{
		repo:    repo,
		engine:  engine,
		metrics: metrics,
		now:     time.Now,
	}
}

// Routes returns the chi router for all coupon endpoints, mounted under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/coupons", h.CreateCoupon)
		r.Get("/coupons", h.ListCoupons)
		r.Get("/coupons/code/{code}", h.GetCouponByCode)
		r.Get("/coupons/{id}", h.GetCoupon)
		r.Put("/coupons/{id}", h.UpdateCoupon)
		r.Delete("/coupons/{id}", h.DeleteCoupon)
		r.Get("/coupons/{id}/stats", h.CouponStats)

		r.Post("/applicable-coupons", h.ApplicableCoupons)
		r.Post("/apply-coupon/{id}", h.ApplyCoupon)
	})

	return r
}
