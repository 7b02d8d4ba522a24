package bridge

import "time"

// RetryPolicy bounds how the bridge re-establishes the hub connection
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy gives up after five consecutive failures
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   time.Second,
}

// Delay returns the wait before retry n (n >= 1): BaseDelay * n
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(n)
}

// Exhausted reports whether the given number of consecutive failures ends retrying
func (p RetryPolicy) Exhausted(failures int) bool {
	return failures >= p.MaxAttempts
}

// Schedule lists every wait the policy performs before giving up
func (p RetryPolicy) Schedule() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	for n := 1; n < p.MaxAttempts; n++ {
		delays = append(delays, p.Delay(n))
	}
	return delays
}
