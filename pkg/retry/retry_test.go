package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testPolicies mirrors DefaultPolicies' shape and semantics (retry budgets,
// which codes trip the rate limiter) at millisecond scale so the test suite
// doesn't spend real wall-clock time sleeping through production backoffs.
func testPolicies() map[int]Policy {
	return map[int]Policy{
		502: {MaxRetries: 10, InitialInterval: 5 * time.Millisecond, Multiplier: 1.5, TripsRateLimit: true},
		441: {MaxRetries: 3, InitialInterval: 2 * time.Millisecond, Multiplier: 2.0},
		500: {MaxRetries: 5, InitialInterval: 3 * time.Millisecond, Multiplier: 2.0},
	}
}

func newTestRunner() *Runner {
	return NewRunnerWithPolicies(1000, time.Second, testPolicies())
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	r := newTestRunner()
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestDoRetriesArticleRefusedUpToLimit(t *testing.T) {
	r := newTestRunner()
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return NewCodedError(441, errors.New("article not wanted"))
	}, nil)
	if err == nil {
		t.Fatal("expected error after exhausting 441 retry budget")
	}
	// 441's policy allows 3 retries, so 4 total attempts.
	if calls != 4 {
		t.Fatalf("expected 4 attempts (1 + 3 retries), got %d", calls)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	r := newTestRunner()
	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return NewCodedError(500, errors.New("server error"))
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	r := newTestRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, func(ctx context.Context) error {
		return NewCodedError(500, errors.New("server error"))
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOnRetryCallbackInvoked(t *testing.T) {
	r := newTestRunner()
	var retries []int
	_ = r.Do(context.Background(), func(ctx context.Context) error {
		return NewCodedError(441, errors.New("refused"))
	}, func(attempt int, delay time.Duration, err error) {
		retries = append(retries, attempt)
	})
	if len(retries) != 3 {
		t.Fatalf("expected 3 retry callbacks, got %d", len(retries))
	}
}

func TestStatisticsTrackSuccessAndFailure(t *testing.T) {
	r := newTestRunner()
	_ = r.Do(context.Background(), func(ctx context.Context) error { return nil }, nil)
	_ = r.Do(context.Background(), func(ctx context.Context) error {
		return NewCodedError(441, errors.New("refused"))
	}, nil)

	snap := r.Statistics().Snapshot()
	if snap.Successful != 1 || snap.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", snap)
	}
	if snap.ErrorCounts["nntp_441"] != 1 {
		t.Fatalf("expected one nntp_441 error recorded, got %+v", snap.ErrorCounts)
	}
}

func TestRateLimitTripOnRateLimitCode(t *testing.T) {
	r := newTestRunner()
	calls := 0
	_ = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return NewCodedError(502, errors.New("rate limited"))
		}
		return nil
	}, nil)
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestParseCodeFromGreeting(t *testing.T) {
	cases := map[string]int{
		"200 NNTP Service Ready":  200,
		"441 Article not wanted":  441,
		"502 Rate limit exceeded": 502,
	}
	for line, want := range cases {
		got, ok := ParseCodeFromGreeting(line)
		if !ok || got != want {
			t.Fatalf("ParseCodeFromGreeting(%q) = %d, %v, want %d", line, got, ok, want)
		}
	}

	if _, ok := ParseCodeFromGreeting("x"); ok {
		t.Fatal("expected short input to fail to parse")
	}
}
