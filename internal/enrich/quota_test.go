package enrich

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestQuota_ExhaustsRequestBudget(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	q := NewRequestQuota(now, 2, 1<<20)

	ok, _ := q.TryAcquire(now)
	assert.True(t, ok)
	ok, _ = q.TryAcquire(now)
	assert.True(t, ok)

	ok, reason := q.TryAcquire(now)
	assert.False(t, ok)
	assert.Equal(t, QuotaDenyRequestLimit, reason)
}

func TestRequestQuota_TransferBudgetBlocksFurtherCalls(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	q := NewRequestQuota(now, 100, 1024)

	ok, _ := q.TryAcquire(now)
	assert.True(t, ok)
	q.RecordTransfer(now, 1024)

	ok, reason := q.TryAcquire(now)
	assert.False(t, ok)
	assert.Equal(t, QuotaDenyTransferLimit, reason)
}

func TestRequestQuota_UTCDayRolloverResetsBothBudgets(t *testing.T) {
	lateEvening := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	q := NewRequestQuota(lateEvening, 1, 10)

	ok, _ := q.TryAcquire(lateEvening)
	assert.True(t, ok)
	q.RecordTransfer(lateEvening, 50)

	ok, _ = q.TryAcquire(lateEvening)
	assert.False(t, ok)

	pastMidnight := time.Date(2026, 3, 15, 0, 5, 0, 0, time.UTC)
	ok, _ = q.TryAcquire(pastMidnight)
	assert.True(t, ok, "a new UTC day resets the request and transfer budgets")
}

func TestRequestQuota_SameDayNeverResets(t *testing.T) {
	morning := time.Date(2026, 3, 14, 0, 10, 0, 0, time.UTC)
	q := NewRequestQuota(morning, 1, 1<<20)

	ok, _ := q.TryAcquire(morning)
	assert.True(t, ok)

	evening := morning.Add(23 * time.Hour)
	ok, reason := q.TryAcquire(evening)
	assert.False(t, ok)
	assert.Equal(t, QuotaDenyRequestLimit, reason)
}

func TestRequestQuota_ZeroBudgetDeniesImmediately(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	q := NewRequestQuota(now, 0, 0)

	ok, reason := q.TryAcquire(now)
	assert.False(t, ok)
	assert.Equal(t, QuotaDenyRequestLimit, reason)
}
