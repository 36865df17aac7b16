package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-finance-api/internal/models"
)

func feeFor(t *testing.T, id string, year, month int, base, paid int64, now time.Time) models.FeeRecord {
	t.Helper()
	record, err := models.NewFeeRecord("student-1", models.FeeTypeTuition, models.PeriodDueDate(year, month), amount(base), decimal.Zero, decimal.Zero, now)
	require.NoError(t, err)
	record.ID = id
	record.PaidAmount = amount(paid)
	require.NoError(t, record.Recompute(now))
	return *record
}

func TestComputeArrearsExcludesCurrentMonth(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	records := []models.FeeRecord{
		feeFor(t, "apr", 2026, 4, 2500, 0, now),
		feeFor(t, "mar", 2026, 3, 2500, 1000, now),
		feeFor(t, "jan", 2026, 1, 2500, 0, now),
		feeFor(t, "feb", 2026, 2, 2500, 2500, now),
	}

	result := computeArrears("student-1", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), records, now)
	assert.True(t, result.TotalArrears.Equal(amount(4000)))
	require.Len(t, result.Breakdown, 2)
	assert.Equal(t, "jan", result.Breakdown[0].FeeID)
	assert.Equal(t, models.FeeStatusOverdue, result.Breakdown[0].Status)
	assert.Equal(t, "mar", result.Breakdown[1].FeeID)
	assert.True(t, result.Breakdown[1].Amount.Equal(amount(1500)))
	assert.Equal(t, "March 2026", result.Breakdown[1].Month)
}

func TestComputeArrearsAdmittedThisMonth(t *testing.T) {
	now := time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)
	records := []models.FeeRecord{feeFor(t, "mar", 2026, 3, 2500, 0, now)}

	result := computeArrears("student-1", time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), records, now)
	assert.True(t, result.TotalArrears.IsZero())
	assert.NotNil(t, result.Breakdown)
	assert.Empty(t, result.Breakdown)
}

func TestComputeArrearsNoRecords(t *testing.T) {
	result := computeArrears("student-1", time.Time{}, nil, time.Now())
	assert.True(t, result.TotalArrears.IsZero())
	assert.Empty(t, result.Breakdown)
}

func TestComputeArrearsCutoffIgnoresStoredStatus(t *testing.T) {
	now := time.Date(2026, 4, 15, 9, 30, 0, 0, time.UTC)
	cutoff := models.StartOfMonth(now)
	records := []models.FeeRecord{
		{ID: "first-day", PeriodDueDate: cutoff, Status: models.FeeStatusUnpaid, RemainingAmount: amount(700)},
		{ID: "stale-overdue", PeriodDueDate: models.PeriodDueDate(2026, 4), Status: models.FeeStatusOverdue, RemainingAmount: amount(900)},
		{ID: "last-day-prior", PeriodDueDate: cutoff.AddDate(0, 0, -1), Status: models.FeeStatusUnpaid, RemainingAmount: amount(300)},
	}

	result := computeArrears("student-1", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), records, now)
	require.Len(t, result.Breakdown, 1)
	assert.Equal(t, "last-day-prior", result.Breakdown[0].FeeID)
	assert.True(t, result.TotalArrears.Equal(amount(300)))
}
