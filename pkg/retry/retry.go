// Package retry implements the NNTP-facing retry policy: per-response-code
// backoff schedules, a sliding-window rate limiter, and attempt statistics
// (spec.md §4.6). It is grounded on the NNTP status codes a news server can
// return for POST/ARTICLE/GROUP and the distinct retry treatment spec.md
// assigns each: 502 (rate limiting) backs off hardest and also trips the
// rate limiter; 441 (article refused) gets a short, narrow retry budget
// since repeating it rarely helps; anything else server- or transport-side
// gets a moderate default budget.
package retry

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CodedError lets a caller's operation report the NNTP response code it
// failed with, so Do can look up that code's specific policy. Operations
// that only have a transport-level failure (connection reset, timeout) can
// return a plain error; it is treated as error-class 500.
type CodedError struct {
	Code int
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }
func (e *CodedError) Unwrap() error { return e.Err }

// NewCodedError wraps err with the NNTP response code that produced it.
func NewCodedError(code int, err error) error {
	return &CodedError{Code: code, Err: err}
}

// Policy is one error code's retry schedule.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
	TripsRateLimit  bool
}

// DefaultPolicies is spec.md §4.6's per-code retry schedule.
func DefaultPolicies() map[int]Policy {
	return map[int]Policy{
		502: {MaxRetries: 10, InitialInterval: 30 * time.Second, Multiplier: 1.5, TripsRateLimit: true},
		441: {MaxRetries: 3, InitialInterval: 5 * time.Second, Multiplier: 2.0},
		500: {MaxRetries: 5, InitialInterval: 10 * time.Second, Multiplier: 2.0},
	}
}

const maxInterval = 10 * time.Minute

// classForCode maps an NNTP code to the policy bucket it falls in. Anything
// not explicitly listed, including plain transport errors, is treated like
// a generic server error (500-class).
func classForCode(policies map[int]Policy, code int) int {
	if _, ok := policies[code]; ok {
		return code
	}
	return 500
}

// policyFor returns the retry policy for err, consulting its CodedError
// wrapper if present.
func policyFor(policies map[int]Policy, err error) Policy {
	var coded *CodedError
	if errors.As(err, &coded) {
		return policies[classForCode(policies, coded.Code)]
	}
	return policies[500]
}

// Runner executes operations under the NNTP retry contract, sharing a
// single rate limiter and statistics recorder across calls.
type Runner struct {
	limiter  *RateLimiter
	stats    *Statistics
	policies map[int]Policy
}

// NewRunner builds a Runner with spec.md's default per-code policies, whose
// rate limiter allows maxRequests within window before callers start
// blocking (default: 10 requests per 60s).
func NewRunner(maxRequests int, window time.Duration) *Runner {
	return NewRunnerWithPolicies(maxRequests, window, DefaultPolicies())
}

// NewRunnerWithPolicies builds a Runner with a caller-supplied policy table,
// letting tests substitute millisecond-scale schedules for the real
// multi-second production ones.
func NewRunnerWithPolicies(maxRequests int, window time.Duration, policies map[int]Policy) *Runner {
	return &Runner{
		limiter:  NewRateLimiter(maxRequests, window),
		stats:    NewStatistics(),
		policies: policies,
	}
}

// Statistics returns the runner's cumulative attempt statistics.
func (r *Runner) Statistics() *Statistics { return r.stats }

// OnRetry observes each retry Do schedules: the 0-based attempt that just
// failed, the delay before the next one, and the error. Do takes it as its
// last parameter; pass nil to skip observation.
type OnRetry func(attempt int, delay time.Duration, err error)

// Do executes fn, retrying per the policy matching the last error's NNTP
// code, honoring the shared rate limiter, and stopping when ctx is done.
// onRetry may be nil.
func (r *Runner) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry OnRetry) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	attempt := 0

	for {
		err := fn(ctx)
		if err == nil {
			r.stats.RecordAttempt(true, attempt, nil)
			return nil
		}
		policy := policyFor(r.policies, err)

		if policy.TripsRateLimit {
			r.limiter.Trip()
		}

		if attempt >= policy.MaxRetries {
			r.stats.RecordAttempt(false, attempt, err)
			return err
		}

		delay := backoffDelay(policy, attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if policy.TripsRateLimit {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		attempt++
	}
}

// backoffDelay computes policy's exponential delay for attempt, capped at
// maxInterval, using cenkalti/backoff's ExponentialBackOff for the jittered
// randomization rather than a hand-rolled formula.
func backoffDelay(p Policy, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = maxInterval
	b.RandomizationFactor = 0.2

	// Advance the backoff generator to `attempt` without sleeping, then take
	// its next interval as this attempt's delay.
	for i := 0; i < attempt; i++ {
		b.NextBackOff()
	}
	d := b.NextBackOff()
	if d == backoff.Stop || d > maxInterval {
		return maxInterval
	}
	return d
}

// ParseCodeFromGreeting extracts the leading three-digit NNTP response code
// from a raw server line such as "441 Article not wanted - no such article",
// for callers that only have the raw line rather than a typed response.
func ParseCodeFromGreeting(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if len(line) < 3 {
		return 0, false
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0, false
	}
	return code, true
}
