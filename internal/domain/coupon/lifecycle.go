package coupon

// Advance re-validates the usage limit and returns the post-application
// counter value. The re-check guards the gap between the eligibility check
// and the commit: two evaluations racing over the same stored counter must
// be caught here or by the storage layer's conditional update, whichever
// runs last. Advance never persists anything; writing the new counter back
// is the caller's explicit responsibility.
func Advance(c *Coupon) (int, error) {
	if c.RepetitionLimit > 0 && c.TimesUsed >= c.RepetitionLimit {
		return 0, ErrUsageLimitReached
	}
	return c.TimesUsed + 1, nil
}
