package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/coupon-rules-service/internal/domain/coupon"
)

// errorResponse is the JSON body for every non-2xx response.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondStatus(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Code: status, Message: message})
}

// respondError maps domain errors to HTTP statuses: missing resources to 404,
// business rejections to 400 with a machine-readable reason, malformed input
// to 422, and everything else to a logged 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		respondStatus(w, http.StatusNotFound, "coupon not found")
		return
	case errors.Is(err, coupon.ErrCodeExists):
		respondStatus(w, http.StatusBadRequest, "coupon code already exists")
		return
	case errors.Is(err, coupon.ErrUsageLimitReached):
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Code:    http.StatusBadRequest,
			Message: "coupon usage limit reached",
			Reason:  string(coupon.ReasonUsageLimitReached),
		})
		return
	}

	var naErr *coupon.NotApplicableError
	if errors.As(err, &naErr) {
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Code:    http.StatusBadRequest,
			Message: "coupon is not applicable to this cart",
			Reason:  string(naErr.Reason),
		})
		return
	}

	var verr *coupon.ValidationError
	if errors.As(err, &verr) {
		respondStatus(w, http.StatusUnprocessableEntity, verr.Error())
		return
	}

	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	respondStatus(w, http.StatusInternalServerError, "internal server error")
}

// decodeJSON decodes the request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &coupon.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}
