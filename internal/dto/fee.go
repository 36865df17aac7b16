package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-finance-api/internal/models"
)

// FeeListQuery captures query-string filters for listing fees.
type FeeListQuery struct {
	StudentIDs []string
	Month      int `validate:"omitempty,min=1,max=12"`
	Year       int `validate:"omitempty,min=2000,max=2100"`
	Status     string
	FeeType    string
	Page       int
	Limit      int
}

// CreateFeeRequest defines the payload for creating a charge. Either DueDate or Month and Year is required.
type CreateFeeRequest struct {
	StudentID        string           `json:"studentId" validate:"required"`
	FeeType          string           `json:"feeType" validate:"required,oneof=tuition exam transport library laboratory other all"`
	Description      string           `json:"description" validate:"max=255"`
	DueDate          *time.Time       `json:"dueDate"`
	Month            int              `json:"month" validate:"omitempty,min=1,max=12"`
	Year             int              `json:"year" validate:"omitempty,min=2000,max=2100"`
	BaseAmount       *decimal.Decimal `json:"baseAmount"`
	AbsenceFine      *decimal.Decimal `json:"absenceFine"`
	OtherAdjustments *decimal.Decimal `json:"otherAdjustments"`
	Remarks          string           `json:"remarks" validate:"max=500"`
}

// UpdateFeeRequest defines the mutable fields of a charge.
type UpdateFeeRequest struct {
	Description      *string          `json:"description" validate:"omitempty,max=255"`
	BaseAmount       *decimal.Decimal `json:"baseAmount"`
	AbsenceFine      *decimal.Decimal `json:"absenceFine"`
	OtherAdjustments *decimal.Decimal `json:"otherAdjustments"`
	Remarks          *string          `json:"remarks" validate:"omitempty,max=500"`
}

// RecordPaymentRequest applies a payment to a single charge.
type RecordPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod" validate:"required,oneof=cash bank_transfer card online cheque"`
	TransactionID string          `json:"transactionId" validate:"max=100"`
	Remarks       string          `json:"remarks" validate:"max=500"`
}

// AggregatePaymentRequest spreads one payment across a student's outstanding charges.
type AggregatePaymentRequest struct {
	PaidAmount       decimal.Decimal  `json:"paidAmount"`
	PaymentMethod    string           `json:"paymentMethod" validate:"required,oneof=cash bank_transfer card online cheque"`
	TransactionID    string           `json:"transactionId" validate:"max=100"`
	Remarks          string           `json:"remarks" validate:"max=500"`
	AbsenceFine      *decimal.Decimal `json:"absenceFine"`
	OtherAdjustments *decimal.Decimal `json:"otherAdjustments"`
}

// AllocationItem describes how much of a payment landed on one charge.
type AllocationItem struct {
	FeeID           string           `json:"feeId"`
	FeeType         models.FeeType   `json:"feeType"`
	Month           string           `json:"month"`
	PeriodDueDate   time.Time        `json:"periodDueDate"`
	Applied         decimal.Decimal  `json:"applied"`
	RemainingAmount decimal.Decimal  `json:"remainingAmount"`
	Status          models.FeeStatus `json:"status"`
}

// AggregatePaymentResult reports the outcome of an aggregated payment.
type AggregatePaymentResult struct {
	StudentID         string           `json:"studentId"`
	PaidAmount        decimal.Decimal  `json:"paidAmount"`
	AllocatedAmount   decimal.Decimal  `json:"allocatedAmount"`
	UnallocatedAmount decimal.Decimal  `json:"unallocatedAmount"`
	RecordsUpdated    int              `json:"recordsUpdated"`
	AdjustedFeeID     *string          `json:"adjustedFeeId,omitempty"`
	Allocations       []AllocationItem `json:"allocations"`
}

// ArrearsItem is one outstanding prior-month charge.
type ArrearsItem struct {
	FeeID         string           `json:"feeId"`
	Month         string           `json:"month"`
	PeriodDueDate time.Time        `json:"periodDueDate"`
	FeeType       models.FeeType   `json:"feeType"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        models.FeeStatus `json:"status"`
}

// ArrearsResponse summarises what a student owes for earlier months.
type ArrearsResponse struct {
	StudentID    string          `json:"studentId"`
	TotalArrears decimal.Decimal `json:"totalArrears"`
	Breakdown    []ArrearsItem   `json:"breakdown"`
}

// StudentAggregateResponse combines the current month with arrears.
type StudentAggregateResponse struct {
	StudentID          string          `json:"studentId"`
	StudentName        string          `json:"studentName"`
	Month              string          `json:"month"`
	CurrentMonthBase   decimal.Decimal `json:"currentMonthBase"`
	CurrentMonthFines  decimal.Decimal `json:"currentMonthFines"`
	CurrentMonthAmount decimal.Decimal `json:"currentMonthAmount"`
	CurrentMonthPaid   decimal.Decimal `json:"currentMonthPaid"`
	CurrentMonthDue    decimal.Decimal `json:"currentMonthDue"`
	TotalArrears       decimal.Decimal `json:"totalArrears"`
	ArrearsBreakdown   []ArrearsItem   `json:"arrearsBreakdown"`
	TotalPayable       decimal.Decimal `json:"totalPayable"`
	GeneratedAt        time.Time       `json:"generatedAt"`
}

// StatementTotals sums the ledger for a statement.
type StatementTotals struct {
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	TotalPaid      decimal.Decimal `json:"totalPaid"`
	TotalRemaining decimal.Decimal `json:"totalRemaining"`
	TotalFines     decimal.Decimal `json:"totalFines"`
}

// StatementResponse is the full ledger for one student.
type StatementResponse struct {
	StudentID   string              `json:"studentId"`
	StudentName string              `json:"studentName"`
	NIS         string              `json:"nis"`
	Records     []models.FeeRecord  `json:"records"`
	Payments    []models.FeePayment `json:"payments"`
	Totals      StatementTotals     `json:"totals"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// GenerateMonthlyRequest triggers monthly fee generation. Zero month or year means the current one.
type GenerateMonthlyRequest struct {
	Month     int              `json:"month" validate:"omitempty,min=1,max=12"`
	Year      int              `json:"year" validate:"omitempty,min=2000,max=2100"`
	FeeAmount *decimal.Decimal `json:"feeAmount"`
}

// GenerationError records one student the generator could not bill.
type GenerationError struct {
	StudentID string `json:"studentId"`
	Error     string `json:"error"`
}

// GenerateMonthlyResult reports monthly generation counts.
type GenerateMonthlyResult struct {
	Month         int               `json:"month"`
	Year          int               `json:"year"`
	PeriodDueDate time.Time         `json:"periodDueDate"`
	Created       int               `json:"created"`
	Updated       int               `json:"updated"`
	Skipped       int               `json:"skipped"`
	Errors        []GenerationError `json:"errors"`
}

// CleanupResult reports how many orphaned charges were removed.
type CleanupResult struct {
	Deleted int `json:"deleted"`
}
