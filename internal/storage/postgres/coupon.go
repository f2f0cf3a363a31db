package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-rules-service/internal/domain/coupon"
)

const (
	insertCouponSQL = `INSERT INTO coupons
		(id, code, type, details, is_active, expires_at, repetition_limit, times_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	listCouponsSQL = `SELECT id, code, type, details, is_active, expires_at,
		repetition_limit, times_used, created_at, updated_at
		FROM coupons ORDER BY created_at, id`

	getCouponByIDSQL = `SELECT id, code, type, details, is_active, expires_at,
		repetition_limit, times_used, created_at, updated_at
		FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT id, code, type, details, is_active, expires_at,
		repetition_limit, times_used, created_at, updated_at
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	updateCouponSQL = `UPDATE coupons SET code = $2, type = $3, details = $4,
		is_active = $5, expires_at = $6, repetition_limit = $7, updated_at = $8
		WHERE id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	// The WHERE clause is the atomic usage guard: two racing applications
	// cannot both pass it once the counter hits the limit.
	incrementUsageSQL = `UPDATE coupons
		SET times_used = times_used + 1, updated_at = now()
		WHERE id = $1 AND (repetition_limit IS NULL OR times_used < repetition_limit)
		RETURNING times_used`
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaches.
const uniqueViolation = "23505"

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create inserts a new coupon. Returns coupon.ErrCodeExists when the code is
// already taken (case-insensitively).
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	details, err := marshalDetails(c)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, string(c.Type), details, c.IsActive,
		nullableTime(c.ExpiresAt), nullableInt(c.RepetitionLimit),
		c.TimesUsed, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCodeExists
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// List returns every stored coupon in creation order.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return coupons, nil
}

// GetByID looks up a coupon by its id.
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.getOne(ctx, getCouponByIDSQL, id)
}

// GetByCode looks up a coupon by its code, case-insensitively.
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.getOne(ctx, getCouponByCodeSQL, code)
}

func (r *CouponRepository) getOne(ctx context.Context, sql, arg string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", arg, err)
	}
	return &c, nil
}

// Update rewrites a coupon's mutable fields. The usage counter is excluded:
// it only moves through IncrementUsage.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	details, err := marshalDetails(c)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, c.Code, string(c.Type), details, c.IsActive,
		nullableTime(c.ExpiresAt), nullableInt(c.RepetitionLimit), c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCodeExists
		}
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes a coupon. Returns coupon.ErrNotFound when no row matched.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// IncrementUsage bumps times_used under the repetition-limit guard and
// returns the new value. The guard runs inside a single UPDATE, so two
// concurrent applications cannot both slip past the limit.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id string) (int, error) {
	var timesUsed int
	err := r.pool.QueryRow(ctx, incrementUsageSQL, id).Scan(&timesUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the coupon is gone or the guard rejected the increment.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return 0, getErr
			}
			return 0, coupon.ErrUsageLimitReached
		}
		return 0, fmt.Errorf("incrementing usage for coupon %q: %w", id, err)
	}
	return timesUsed, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// detailsRecord is the JSONB shape of the variant payload. Field names match
// the wire format used by the HTTP API.
type detailsRecord struct {
	Threshold       *decimal.Decimal `json:"threshold,omitempty"`
	Discount        *decimal.Decimal `json:"discount,omitempty"`
	ProductID       string           `json:"product_id,omitempty"`
	BuyProducts     []lineRecord     `json:"buy_products,omitempty"`
	GetProducts     []lineRecord     `json:"get_products,omitempty"`
	RepetitionLimit int              `json:"repetition_limit,omitempty"`
}

type lineRecord struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func marshalDetails(c *coupon.Coupon) ([]byte, error) {
	var rec detailsRecord
	switch c.Type {
	case coupon.TypeCartWise:
		rec.Threshold = &c.CartWise.Threshold
		rec.Discount = &c.CartWise.DiscountPercent
	case coupon.TypeProductWise:
		rec.ProductID = c.ProductWise.ProductID
		rec.Discount = &c.ProductWise.DiscountPercent
	case coupon.TypeBxGy:
		rec.BuyProducts = toLineRecords(c.BxGy.BuyProducts)
		rec.GetProducts = toLineRecords(c.BxGy.GetProducts)
		rec.RepetitionLimit = c.BxGy.RepetitionLimit
	default:
		return nil, errors.Errorf("unsupported coupon type: %q", c.Type)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding details for coupon %q: %w", c.Code, err)
	}
	return payload, nil
}

func unmarshalDetails(c *coupon.Coupon, payload []byte) error {
	var rec detailsRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("decoding details for coupon %q: %w", c.ID, err)
	}

	switch c.Type {
	case coupon.TypeCartWise:
		c.CartWise = &coupon.CartWiseDetails{
			Threshold:       deref(rec.Threshold),
			DiscountPercent: deref(rec.Discount),
		}
	case coupon.TypeProductWise:
		c.ProductWise = &coupon.ProductWiseDetails{
			ProductID:       rec.ProductID,
			DiscountPercent: deref(rec.Discount),
		}
	case coupon.TypeBxGy:
		c.BxGy = &coupon.BxGyDetails{
			BuyProducts:     toDomainLines(rec.BuyProducts),
			GetProducts:     toDomainLines(rec.GetProducts),
			RepetitionLimit: rec.RepetitionLimit,
		}
	default:
		return errors.Errorf("unsupported coupon type in row %q: %q", c.ID, c.Type)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c        coupon.Coupon
		typ      string
		details  []byte
		expires  *time.Time
		repLimit *int
	)
	err := row.Scan(
		&c.ID, &c.Code, &typ, &details, &c.IsActive,
		&expires, &repLimit, &c.TimesUsed, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return coupon.Coupon{}, err
	}

	c.Type = coupon.Type(typ)
	if expires != nil {
		c.ExpiresAt = *expires
	}
	if repLimit != nil {
		c.RepetitionLimit = *repLimit
	}
	if err := unmarshalDetails(&c, details); err != nil {
		return coupon.Coupon{}, err
	}
	return c, nil
}

func toLineRecords(lines []coupon.BxGyLine) []lineRecord {
	out := make([]lineRecord, len(lines))
	for i, line := range lines {
		out[i] = lineRecord{ProductID: line.ProductID, Quantity: line.Quantity}
	}
	return out
}

func toDomainLines(lines []lineRecord) []coupon.BxGyLine {
	out := make([]coupon.BxGyLine, len(lines))
	for i, line := range lines {
		out[i] = coupon.BxGyLine{ProductID: line.ProductID, Quantity: line.Quantity}
	}
	return out
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
