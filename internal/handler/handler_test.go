package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/coupon-rules-service/internal/domain/coupon"
)

// --- Mock repository ---

type mockCouponRepo struct {
	byID    map[string]*coupon.Coupon
	order   []string
	listErr error
}

func newMockRepo(coupons ...*coupon.Coupon) *mockCouponRepo {
	m := &mockCouponRepo{byID: make(map[string]*coupon.Coupon)}
	for _, c := range coupons {
		m.byID[c.ID] = c
		m.order = append(m.order, c.ID)
	}
	return m
}

func (m *mockCouponRepo) Create(_ context.Context, c *coupon.Coupon) error {
	for _, existing := range m.byID {
		if strings.EqualFold(existing.Code, c.Code) {
			return coupon.ErrCodeExists
		}
	}
	clone := *c
	m.byID[c.ID] = &clone
	m.order = append(m.order, c.ID)
	return nil
}

func (m *mockCouponRepo) List(_ context.Context) ([]coupon.Coupon, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]coupon.Coupon, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.byID[id])
	}
	return out, nil
}

func (m *mockCouponRepo) GetByID(_ context.Context, id string) (*coupon.Coupon, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *mockCouponRepo) GetByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	for _, c := range m.byID {
		if strings.EqualFold(c.Code, code) {
			clone := *c
			return &clone, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (m *mockCouponRepo) Update(_ context.Context, c *coupon.Coupon) error {
	if _, ok := m.byID[c.ID]; !ok {
		return coupon.ErrNotFound
	}
	clone := *c
	m.byID[c.ID] = &clone
	return nil
}

func (m *mockCouponRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.byID[id]; !ok {
		return coupon.ErrNotFound
	}
	delete(m.byID, id)
	for i, stored := range m.order {
		if stored == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockCouponRepo) IncrementUsage(_ context.Context, id string) (int, error) {
	c, ok := m.byID[id]
	if !ok {
		return 0, coupon.ErrNotFound
	}
	if c.RepetitionLimit > 0 && c.TimesUsed >= c.RepetitionLimit {
		return 0, coupon.ErrUsageLimitReached
	}
	c.TimesUsed++
	return c.TimesUsed, nil
}

// --- Helpers ---

var handlerNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, repo *mockCouponRepo) http.Handler {
	t.Helper()

	engine := coupon.NewEngineAt(func() time.Time { return handlerNow })
	metrics, err := NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	h := NewHandler(repo, engine, metrics)
	h.now = func() time.Time { return handlerNow }
	return h.Routes()
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func storedCartWise(id, code string, threshold, percent string) *coupon.Coupon {
	return &coupon.Coupon{
		ID:       id,
		Code:     code,
		Type:     coupon.TypeCartWise,
		IsActive: true,
		ExpiresAt: handlerNow.Add(24 * time.Hour),
		CartWise: &coupon.CartWiseDetails{
			Threshold:       decimal.RequireFromString(threshold),
			DiscountPercent: decimal.RequireFromString(percent),
		},
		CreatedAt: handlerNow,
		UpdatedAt: handlerNow,
	}
}

func cartBody(items ...cartItemPayload) cartRequest {
	return cartRequest{Cart: cartPayload{Items: items}}
}

// --- Tests ---

func TestCreateCoupon(t *testing.T) {
	router := newTestHandler(t, newMockRepo())

	rec := doRequest(t, router, http.MethodPost, "/api/coupons", map[string]any{
		"code": "SAVE10",
		"type": "cart-wise",
		"details": map[string]any{
			"threshold": 100,
			"discount":  10,
		},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody[couponResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "SAVE10", resp.Code)
	assert.Equal(t, "cart-wise", resp.Type)
	assert.True(t, resp.IsActive)
	require.NotNil(t, resp.ExpiresAt)
	assert.Equal(t, handlerNow.Add(defaultExpiry), resp.ExpiresAt.UTC())
	assert.Equal(t, 0, resp.TimesUsed)
}

func TestCreateCouponDuplicateCode(t *testing.T) {
	router := newTestHandler(t, newMockRepo(storedCartWise("c1", "SAVE10", "100", "10")))

	rec := doRequest(t, router, http.MethodPost, "/api/coupons", map[string]any{
		"code": "save10",
		"type": "cart-wise",
		"details": map[string]any{
			"threshold": 50,
			"discount":  5,
		},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[errorResponse](t, rec)
	assert.Contains(t, resp.Message, "already exists")
}

func TestCreateCouponValidation(t *testing.T) {
	router := newTestHandler(t, newMockRepo())

	tests := []struct {
		name string
		body map[string]any
	}{
		{
			name: "short code",
			body: map[string]any{
				"code": "AB", "type": "cart-wise",
				"details": map[string]any{"threshold": 10, "discount": 10},
			},
		},
		{
			name: "unknown type",
			body: map[string]any{
				"code": "SAVE10", "type": "mystery",
				"details": map[string]any{},
			},
		},
		{
			name: "percent out of range",
			body: map[string]any{
				"code": "SAVE10", "type": "cart-wise",
				"details": map[string]any{"threshold": 10, "discount": 150},
			},
		},
		{
			name: "bxgy without get products",
			body: map[string]any{
				"code": "BXGY01", "type": "bxgy",
				"details": map[string]any{
					"buy_products": []map[string]any{{"product_id": "1", "quantity": 2}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/coupons", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		})
	}
}

func TestGetCoupon(t *testing.T) {
	router := newTestHandler(t, newMockRepo(storedCartWise("c1", "SAVE10", "100", "10")))

	rec := doRequest(t, router, http.MethodGet, "/api/coupons/c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[couponResponse](t, rec)
	assert.Equal(t, "SAVE10", resp.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/coupons/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCouponByCode(t *testing.T) {
	router := newTestHandler(t, newMockRepo(storedCartWise("c1", "SAVE10", "100", "10")))

	rec := doRequest(t, router, http.MethodGet, "/api/coupons/code/save10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[couponResponse](t, rec)
	assert.Equal(t, "c1", resp.ID)
}

func TestUpdateCoupon(t *testing.T) {
	repo := newMockRepo(storedCartWise("c1", "SAVE10", "100", "10"))
	router := newTestHandler(t, repo)

	rec := doRequest(t, router, http.MethodPut, "/api/coupons/c1", map[string]any{
		"is_active": false,
		"details":   map[string]any{"threshold": 200, "discount": 15},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[couponResponse](t, rec)
	assert.False(t, resp.IsActive)

	stored := repo.byID["c1"]
	assert.True(t, decimal.RequireFromString("200").Equal(stored.CartWise.Threshold))
}

func TestDeleteCoupon(t *testing.T) {
	router := newTestHandler(t, newMockRepo(storedCartWise("c1", "SAVE10", "100", "10")))

	rec := doRequest(t, router, http.MethodDelete, "/api/coupons/c1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/coupons/c1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplicableCoupons(t *testing.T) {
	expired := storedCartWise("c2", "OLD123", "0", "5")
	expired.ExpiresAt = handlerNow.Add(-time.Hour)

	router := newTestHandler(t, newMockRepo(
		storedCartWise("c1", "SAVE10", "100", "10"),
		expired,
		storedCartWise("c3", "BIG500", "500", "50"),
	))

	rec := doRequest(t, router, http.MethodPost, "/api/applicable-coupons", cartBody(
		cartItemPayload{ProductID: "p1", Quantity: 2, Price: decimal.RequireFromString("50")},
		cartItemPayload{ProductID: "p2", Quantity: 1, Price: decimal.RequireFromString("50")},
	))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[applicableCouponsResponse](t, rec)
	require.Len(t, resp.ApplicableCoupons, 1)
	assert.Equal(t, "c1", resp.ApplicableCoupons[0].CouponID)
	assert.InDelta(t, 15.0, resp.ApplicableCoupons[0].Discount, 1e-9)
}

func TestApplyCoupon(t *testing.T) {
	repo := newMockRepo(storedCartWise("c1", "SAVE10", "100", "10"))
	router := newTestHandler(t, repo)

	rec := doRequest(t, router, http.MethodPost, "/api/apply-coupon/c1", cartBody(
		cartItemPayload{ProductID: "p1", Quantity: 2, Price: decimal.RequireFromString("50")},
		cartItemPayload{ProductID: "p2", Quantity: 1, Price: decimal.RequireFromString("50")},
	))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[applyCouponResponse](t, rec)
	assert.InDelta(t, 150.0, resp.UpdatedCart.TotalPrice, 1e-9)
	assert.InDelta(t, 15.0, resp.UpdatedCart.TotalDiscount, 1e-9)
	assert.InDelta(t, 135.0, resp.UpdatedCart.FinalPrice, 1e-9)
	require.Len(t, resp.UpdatedCart.Items, 2)
	assert.InDelta(t, 10.0, resp.UpdatedCart.Items[0].TotalDiscount, 1e-9)
	assert.InDelta(t, 5.0, resp.UpdatedCart.Items[1].TotalDiscount, 1e-9)

	// Usage counter committed.
	assert.Equal(t, 1, repo.byID["c1"].TimesUsed)
}

func TestApplyCouponRejections(t *testing.T) {
	belowThreshold := storedCartWise("c1", "SAVE10", "1000", "10")

	exhausted := storedCartWise("c2", "ONCE01", "0", "10")
	exhausted.RepetitionLimit = 1
	exhausted.TimesUsed = 1

	router := newTestHandler(t, newMockRepo(belowThreshold, exhausted))
	cart := cartBody(cartItemPayload{ProductID: "p1", Quantity: 1, Price: decimal.RequireFromString("50")})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantReason string
	}{
		{
			name:       "unknown coupon",
			path:       "/api/apply-coupon/missing",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "threshold not met",
			path:       "/api/apply-coupon/c1",
			wantStatus: http.StatusBadRequest,
			wantReason: "threshold_not_met",
		},
		{
			name:       "usage limit reached",
			path:       "/api/apply-coupon/c2",
			wantStatus: http.StatusBadRequest,
			wantReason: "usage_limit_reached",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, tt.path, cart)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantReason != "" {
				resp := decodeBody[errorResponse](t, rec)
				assert.Equal(t, tt.wantReason, resp.Reason)
			}
		})
	}
}

func TestApplyCouponInvalidCart(t *testing.T) {
	router := newTestHandler(t, newMockRepo(storedCartWise("c1", "SAVE10", "0", "10")))

	rec := doRequest(t, router, http.MethodPost, "/api/apply-coupon/c1", cartBody(
		cartItemPayload{ProductID: "p1", Quantity: 0, Price: decimal.RequireFromString("50")},
	))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCouponStats(t *testing.T) {
	limited := &coupon.Coupon{
		ID:       "c1",
		Code:     "BXGY01",
		Type:     coupon.TypeBxGy,
		IsActive: true,
		BxGy: &coupon.BxGyDetails{
			BuyProducts: []coupon.BxGyLine{{ProductID: "1", Quantity: 2}},
			GetProducts: []coupon.BxGyLine{{ProductID: "3", Quantity: 1}},
		},
		RepetitionLimit: 4,
		TimesUsed:       1,
	}
	router := newTestHandler(t, newMockRepo(limited))

	rec := doRequest(t, router, http.MethodGet, "/api/coupons/c1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[couponStatsResponse](t, rec)
	assert.Equal(t, 1, resp.TimesUsed)
	assert.Equal(t, 4, resp.RepetitionLimit)
	assert.InDelta(t, 25.0, resp.UsagePercentage, 1e-9)
	require.NotNil(t, resp.RemainingUses)
	assert.Equal(t, 3, *resp.RemainingUses)
	assert.False(t, resp.IsExhausted)
}

func TestCreateCouponMalformedBody(t *testing.T) {
	router := newTestHandler(t, newMockRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/coupons", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
