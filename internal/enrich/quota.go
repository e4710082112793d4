package enrich

import (
	"sync"
	"time"
)

// QuotaDenyReason says which daily budget refused a call.
type QuotaDenyReason string

const (
	// QuotaDenyRequestLimit means the daily request budget is spent.
	QuotaDenyRequestLimit QuotaDenyReason = "request_limit"
	// QuotaDenyTransferLimit means the daily transfer-byte budget is spent.
	QuotaDenyTransferLimit QuotaDenyReason = "transfer_limit"
)

// RequestQuota is the shared daily budget for Overpass calls: a request
// count plus a transfer-byte allowance, both reset when the UTC day rolls
// over. It is checked before any other admission step, so an exhausted
// budget costs nothing downstream.
type RequestQuota struct {
	mu               sync.Mutex
	maxRequests      int
	maxTransferBytes int64

	day          time.Time
	requestsUsed int
	transferUsed int64
}

// NewRequestQuota builds a quota window anchored at now. Zero budgets deny
// every call.
func NewRequestQuota(now time.Time, maxRequests int, maxTransferBytes int64) *RequestQuota {
	if maxRequests < 0 {
		maxRequests = 0
	}
	if maxTransferBytes < 0 {
		maxTransferBytes = 0
	}
	return &RequestQuota{
		maxRequests:      maxRequests,
		maxTransferBytes: maxTransferBytes,
		day:              utcDay(now),
	}
}

// TryAcquire reserves one request slot for a job starting at now. The
// returned reason is empty when the reservation succeeded.
func (q *RequestQuota) TryAcquire(now time.Time) (bool, QuotaDenyReason) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollOver(now)
	if q.requestsUsed >= q.maxRequests {
		return false, QuotaDenyRequestLimit
	}
	if q.transferUsed >= q.maxTransferBytes {
		return false, QuotaDenyTransferLimit
	}
	q.requestsUsed++
	return true, ""
}

// RecordTransfer charges response bytes from a successful fetch against the
// transfer budget.
func (q *RequestQuota) RecordTransfer(now time.Time, bytes int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollOver(now)
	if bytes > 0 {
		q.transferUsed += bytes
	}
}

// rollOver resets both counters when now has moved past the window's UTC
// day. A clock stepping backwards never resets.
func (q *RequestQuota) rollOver(now time.Time) {
	day := utcDay(now)
	if day.After(q.day) {
		q.day = day
		q.requestsUsed = 0
		q.transferUsed = 0
	}
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
