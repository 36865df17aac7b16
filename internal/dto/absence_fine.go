package dto

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-finance-api/internal/models"
)

// CalculateAbsenceFineRequest computes the fine for one student and month.
type CalculateAbsenceFineRequest struct {
	StudentID    string `json:"studentId" validate:"required"`
	Year         int    `json:"year" validate:"required,min=2000,max=2100"`
	Month        int    `json:"month" validate:"required,min=1,max=12"`
	AbsenceCount *int   `json:"absenceCount" validate:"required,min=0,max=31"`
	ApplyToFee   *bool  `json:"applyToFee"`
}

// AbsenceFineResult is the outcome of a fine calculation.
type AbsenceFineResult struct {
	StudentID              string          `json:"studentId"`
	Year                   int             `json:"year"`
	Month                  int             `json:"month"`
	AbsenceCount           int             `json:"absenceCount"`
	AllowedAbsences        int             `json:"allowedAbsences"`
	HadExcessiveAbsences   bool            `json:"hadExcessiveAbsences"`
	FineAmount             decimal.Decimal `json:"fineAmount"`
	ConsecutiveMonthNumber int             `json:"consecutiveMonthNumber"`
	ShouldResetCounter     bool            `json:"shouldResetCounter"`
	AppliedFeeID           *string         `json:"appliedFeeId,omitempty"`
}

// AbsenceFineHistoryResponse exposes the tracking row.
type AbsenceFineHistoryResponse struct {
	StudentID                              string                       `json:"studentId"`
	ConsecutiveMonthsWithExcessiveAbsences int                          `json:"consecutiveMonthsWithExcessiveAbsences"`
	LastExcessiveAbsenceMonth              *string                      `json:"lastExcessiveAbsenceMonth"`
	MonthlyAbsenceHistory                  []models.MonthlyAbsenceEntry `json:"monthlyAbsenceHistory"`
	TotalFines                             decimal.Decimal              `json:"totalFines"`
}
