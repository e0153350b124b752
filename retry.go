package arbor

import (
	"time"

	"github.com/petrijr/arbor/pkg/api"
)

// RetryBuilder provides a fluent way to construct Retry actions.
type RetryBuilder struct {
	body   Step
	policy RetryPolicy
}

// Retry re-runs body up to times more after its first failure.
//
// times < 0 other than RetryForever is rejected by Build.
func Retry(times int, body Step) RetryBuilder {
	return RetryBuilder{
		body:   body,
		policy: RetryPolicy{Times: times},
	}
}

// Forever returns a copy of r that retries without limit. Only a
// non-matching error or cancellation ends it.
func (r RetryBuilder) Forever() RetryBuilder {
	r.policy.Times = api.RetryForever
	return r
}

// On returns a copy of r that only retries errors matched by m.
func (r RetryBuilder) On(m ErrorMatcher) RetryBuilder {
	r.policy.On = m
	return r
}

// Every configures a constant delay between attempts.
func (r RetryBuilder) Every(delay time.Duration) RetryBuilder {
	return r.WithConstantBackoff(delay)
}

// WithExponentialBackoff configures exponential backoff:
//
//   - initial is the delay before the first retry.
//   - multiplier > 1 grows the delay each attempt (default 2.0 if <= 0).
//   - max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	Retry(3, step).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	p := r.policy
	p.Interval = initial
	p.MaxInterval = max
	if multiplier <= 0 {
		multiplier = 2.0
	}
	p.Multiplier = multiplier
	return RetryBuilder{body: r.body, policy: p}
}

// WithConstantBackoff configures a constant backoff between retries.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.Interval = delay
	p.MaxInterval = 0
	p.Multiplier = 1.0
	return RetryBuilder{body: r.body, policy: p}
}

// Immediate disables any sleep between retries.
// Retries will still respect the retry count.
func (r RetryBuilder) Immediate() RetryBuilder {
	p := r.policy
	p.Interval = 0
	p.MaxInterval = 0
	p.Multiplier = 0
	return RetryBuilder{body: r.body, policy: p}
}

// Policy returns the underlying RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}

func (r RetryBuilder) Build() (*Action, error) {
	body, err := build(r.body)
	if err != nil {
		return nil, err
	}
	return api.NewRetry(body, r.policy)
}
