package storage

import (
	"errors"
	"testing"
	"time"
)

func TestJitteredSleepWithinBounds(t *testing.T) {
	base := 50 * time.Millisecond
	cap := 2 * time.Second

	for attempt := 0; attempt < 12; attempt++ {
		for i := 0; i < 20; i++ {
			d := jitteredSleep(base, 2, attempt, cap)
			// jitter is +-10% of the capped exponential backoff, so the
			// result can never exceed cap by more than that margin.
			max := time.Duration(float64(cap) * 1.1)
			if d > max {
				t.Fatalf("attempt %d: jittered sleep %v exceeds cap-derived max %v", attempt, d, max)
			}
			if d < 0 {
				t.Fatalf("attempt %d: jittered sleep went negative: %v", attempt, d)
			}
		}
	}
}

func TestJitteredSleepGrowsWithAttempt(t *testing.T) {
	base := 10 * time.Millisecond
	cap := 10 * time.Second

	// Compare the unjittered midpoints across attempts by averaging away
	// the +-10% noise over many samples.
	avg := func(attempt int) time.Duration {
		var total time.Duration
		const samples = 200
		for i := 0; i < samples; i++ {
			total += jitteredSleep(base, 2, attempt, cap)
		}
		return total / samples
	}

	early := avg(0)
	later := avg(4)
	if later <= early {
		t.Fatalf("expected later attempts to sleep longer on average: attempt0=%v attempt4=%v", early, later)
	}
}

func TestPow(t *testing.T) {
	cases := []struct {
		base float64
		exp  int
		want float64
	}{
		{2, 0, 1},
		{2, 1, 2},
		{2, 10, 1024},
		{1.5, 3, 3.375},
	}
	for _, c := range cases {
		if got := pow(c.base, c.exp); got != c.want {
			t.Fatalf("pow(%v, %d) = %v, want %v", c.base, c.exp, got, c.want)
		}
	}
}

func TestIsBusyErrorMatchesKnownMessages(t *testing.T) {
	matches := []string{
		"database is locked",
		"SQLITE_BUSY: database is locked",
		"pq: too many connections for role",
		"pq: deadlock detected",
		"pq: could not serialize access due to concurrent update",
	}
	for _, msg := range matches {
		if !isBusyError(errors.New(msg)) {
			t.Errorf("expected %q to be classified as a busy error", msg)
		}
	}

	if isBusyError(nil) {
		t.Error("nil error must not be classified as busy")
	}
	if isBusyError(errors.New("syntax error near SELECT")) {
		t.Error("unrelated error incorrectly classified as busy")
	}
}

func TestContainsAnyAndIndexOf(t *testing.T) {
	if indexOf("hello world", "world") != 6 {
		t.Fatalf("indexOf mismatch: got %d", indexOf("hello world", "world"))
	}
	if indexOf("hello world", "xyz") != -1 {
		t.Fatal("expected -1 for missing substring")
	}
	if !containsAny("hello world", "xyz", "world") {
		t.Fatal("expected containsAny to find world")
	}
	if containsAny("hello world", "xyz", "abc") {
		t.Fatal("expected containsAny to find nothing")
	}
}
