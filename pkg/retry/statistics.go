package retry

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// Statistics accumulates retry outcomes for monitoring, grounded on
// enhanced_nntp_retry.py's RetryStatistics (attempt/success/failure
// counters, a retry-count histogram, and per-error-type counts).
type Statistics struct {
	mu                sync.Mutex
	totalAttempts     int64
	successfulOps     int64
	failedOps         int64
	retryCounts       map[int]int64
	errorCounts       map[string]int64
	lastError         string
	lastSuccessTime   time.Time
}

// NewStatistics returns an empty Statistics.
func NewStatistics() *Statistics {
	return &Statistics{
		retryCounts: make(map[int]int64),
		errorCounts: make(map[string]int64),
	}
}

// RecordAttempt logs one completed operation: success, how many retries it
// took, and the terminal error (nil on success).
func (s *Statistics) RecordAttempt(success bool, retries int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalAttempts++
	s.retryCounts[retries]++

	if success {
		s.successfulOps++
		s.lastSuccessTime = time.Now()
		return
	}
	s.failedOps++
	if err != nil {
		s.lastError = err.Error()
		s.errorCounts[errorClass(err)]++
	}
}

// Snapshot is a point-in-time, immutable copy of Statistics' counters.
type Snapshot struct {
	TotalAttempts   int64
	Successful      int64
	Failed          int64
	SuccessRate     float64
	RetryCounts     map[int]int64
	ErrorCounts     map[string]int64
	LastError       string
	LastSuccessTime time.Time
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	retryCounts := make(map[int]int64, len(s.retryCounts))
	for k, v := range s.retryCounts {
		retryCounts[k] = v
	}
	errorCounts := make(map[string]int64, len(s.errorCounts))
	for k, v := range s.errorCounts {
		errorCounts[k] = v
	}

	var rate float64
	if s.totalAttempts > 0 {
		rate = float64(s.successfulOps) / float64(s.totalAttempts) * 100
	}

	return Snapshot{
		TotalAttempts:   s.totalAttempts,
		Successful:      s.successfulOps,
		Failed:          s.failedOps,
		SuccessRate:     rate,
		RetryCounts:     retryCounts,
		ErrorCounts:     errorCounts,
		LastError:       s.lastError,
		LastSuccessTime: s.lastSuccessTime,
	}
}

// Reset clears all counters.
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalAttempts, s.successfulOps, s.failedOps = 0, 0, 0
	s.retryCounts = make(map[int]int64)
	s.errorCounts = make(map[string]int64)
	s.lastError = ""
	s.lastSuccessTime = time.Time{}
}

func errorClass(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return "nntp_" + strconv.Itoa(coded.Code)
	}
	return "transport"
}
