package service

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-finance-api/internal/dto"
	"github.com/noah-isme/sma-finance-api/internal/models"
)

// computeArrears sums outstanding balances due strictly before the first day of now's month.
// Records due in or after the current month are never arrears, whatever their stored status.
func computeArrears(studentID string, admissionDate time.Time, records []models.FeeRecord, now time.Time) dto.ArrearsResponse {
	result := dto.ArrearsResponse{StudentID: studentID, TotalArrears: decimal.Zero, Breakdown: []dto.ArrearsItem{}}

	cutoff := models.StartOfMonth(now)
	if !admissionDate.IsZero() && !models.StartOfDay(admissionDate).Before(cutoff) {
		return result
	}

	due := make([]models.FeeRecord, 0, len(records))
	for _, record := range records {
		if !record.PeriodDueDate.Before(cutoff) || !record.Status.Outstanding() {
			continue
		}
		due = append(due, record)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].PeriodDueDate.Before(due[j].PeriodDueDate)
	})

	for _, record := range due {
		remaining := decimal.Max(decimal.Zero, record.RemainingAmount)
		result.TotalArrears = result.TotalArrears.Add(remaining)
		result.Breakdown = append(result.Breakdown, dto.ArrearsItem{
			FeeID:         record.ID,
			Month:         models.MonthLabel(record.PeriodDueDate),
			PeriodDueDate: record.PeriodDueDate,
			FeeType:       record.FeeType,
			Amount:        remaining,
			Status:        record.Status,
		})
	}
	return result
}
