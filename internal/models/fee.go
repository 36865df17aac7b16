package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FeeType classifies a charge.
type FeeType string

const (
	FeeTypeTuition    FeeType = "tuition"
	FeeTypeExam       FeeType = "exam"
	FeeTypeTransport  FeeType = "transport"
	FeeTypeLibrary    FeeType = "library"
	FeeTypeLaboratory FeeType = "laboratory"
	FeeTypeOther      FeeType = "other"

	// FeeTypeAll is only accepted on create and expands to BundledFeeTypes.
	FeeTypeAll FeeType = "all"
)

// BundledFeeTypes are the charges created together for FeeTypeAll.
var BundledFeeTypes = []FeeType{FeeTypeTuition, FeeTypeExam}

// Valid reports whether t is a storable fee type.
func (t FeeType) Valid() bool {
	switch t {
	case FeeTypeTuition, FeeTypeExam, FeeTypeTransport, FeeTypeLibrary, FeeTypeLaboratory, FeeTypeOther:
		return true
	default:
		return false
	}
}

// FeeStatus is derived from amounts and the due date, see DeriveFeeStatus.
type FeeStatus string

const (
	FeeStatusUnpaid  FeeStatus = "unpaid"
	FeeStatusPartial FeeStatus = "partial"
	FeeStatusOverdue FeeStatus = "overdue"
	FeeStatusPaid    FeeStatus = "paid"
)

// OutstandingFeeStatuses lists statuses that still carry a balance.
var OutstandingFeeStatuses = []FeeStatus{FeeStatusUnpaid, FeeStatusPartial, FeeStatusOverdue}

// Valid reports whether s is a known status.
func (s FeeStatus) Valid() bool {
	switch s {
	case FeeStatusUnpaid, FeeStatusPartial, FeeStatusOverdue, FeeStatusPaid:
		return true
	default:
		return false
	}
}

// Outstanding reports whether the status still owes money.
func (s FeeStatus) Outstanding() bool {
	return s == FeeStatusUnpaid || s == FeeStatusPartial || s == FeeStatusOverdue
}

// Payment methods accepted by the payment endpoints.
const (
	PaymentMethodCash         = "cash"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodCard         = "card"
	PaymentMethodOnline       = "online"
	PaymentMethodCheque       = "cheque"
)

var (
	// ErrNegativeAmount is returned when an addend or payment would go below zero.
	ErrNegativeAmount = errors.New("fee amounts must not be negative")
	// ErrPaidAmountDecrease guards the monotonic paid amount.
	ErrPaidAmountDecrease = errors.New("paid amount cannot decrease")
	// ErrNonPositivePayment rejects zero or negative payments.
	ErrNonPositivePayment = errors.New("payment amount must be positive")
	// ErrMissingDueDate rejects records without a billing period.
	ErrMissingDueDate = errors.New("period due date is required")
)

// FeeRecord is one charge for one student for one billing period.
// Amount, RemainingAmount and Status are derived: mutate the addends or PaidAmount
// and call Recompute; the repository calls it before every write.
type FeeRecord struct {
	ID               string          `db:"id" json:"id"`
	StudentID        string          `db:"student_id" json:"studentId"`
	FeeType          FeeType         `db:"fee_type" json:"feeType"`
	Description      string          `db:"description" json:"description"`
	PeriodDueDate    time.Time       `db:"period_due_date" json:"periodDueDate"`
	BaseAmount       decimal.Decimal `db:"base_amount" json:"baseAmount"`
	AbsenceFine      decimal.Decimal `db:"absence_fine" json:"absenceFine"`
	OtherAdjustments decimal.Decimal `db:"other_adjustments" json:"otherAdjustments"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	PaidAmount       decimal.Decimal `db:"paid_amount" json:"paidAmount"`
	RemainingAmount  decimal.Decimal `db:"remaining_amount" json:"remainingAmount"`
	Status           FeeStatus       `db:"status" json:"status"`
	PaymentMethod    *string         `db:"payment_method" json:"paymentMethod,omitempty"`
	TransactionID    *string         `db:"transaction_id" json:"transactionId,omitempty"`
	Remarks          *string         `db:"remarks" json:"remarks,omitempty"`
	PaymentDate      *time.Time      `db:"payment_date" json:"paymentDate,omitempty"`
	RecordedBy       *string         `db:"recorded_by" json:"recordedBy,omitempty"`
	Version          int             `db:"version" json:"version"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`
}

// NewFeeRecord builds an unpaid charge with all derived fields populated.
func NewFeeRecord(studentID string, feeType FeeType, dueDate time.Time, base, absenceFine, otherAdjustments decimal.Decimal, now time.Time) (*FeeRecord, error) {
	if !feeType.Valid() {
		return nil, fmt.Errorf("invalid fee type %q", feeType)
	}
	record := &FeeRecord{
		StudentID:        studentID,
		FeeType:          feeType,
		PeriodDueDate:    dueDate,
		BaseAmount:       base,
		AbsenceFine:      absenceFine,
		OtherAdjustments: otherAdjustments,
		PaidAmount:       decimal.Zero,
	}
	if err := record.Recompute(now); err != nil {
		return nil, err
	}
	return record, nil
}

// Recompute normalises the due date and re-derives Amount, RemainingAmount and Status.
// It is the only place these fields are written.
func (r *FeeRecord) Recompute(now time.Time) error {
	if r.PeriodDueDate.IsZero() {
		return ErrMissingDueDate
	}
	if r.BaseAmount.IsNegative() || r.AbsenceFine.IsNegative() || r.OtherAdjustments.IsNegative() || r.PaidAmount.IsNegative() {
		return ErrNegativeAmount
	}
	r.PeriodDueDate = EndOfMonth(r.PeriodDueDate)
	r.Amount = r.BaseAmount.Add(r.AbsenceFine).Add(r.OtherAdjustments)
	r.RemainingAmount = decimal.Max(decimal.Zero, r.Amount.Sub(r.PaidAmount))
	r.Status = DeriveFeeStatus(r.Amount, r.PaidAmount, r.PeriodDueDate, now)
	return nil
}

// RefreshStatus re-derives the status only. Used on read so a stored "unpaid" becomes "overdue" once the period passes.
func (r *FeeRecord) RefreshStatus(now time.Time) {
	r.Status = DeriveFeeStatus(r.Amount, r.PaidAmount, r.PeriodDueDate, now)
}

// SetAdjustments replaces the fine and adjustment addends. Nil leaves an addend unchanged.
func (r *FeeRecord) SetAdjustments(absenceFine, otherAdjustments *decimal.Decimal, now time.Time) error {
	if absenceFine != nil {
		r.AbsenceFine = *absenceFine
	}
	if otherAdjustments != nil {
		r.OtherAdjustments = *otherAdjustments
	}
	return r.Recompute(now)
}

// PaymentDetails describes how a payment slice was received.
type PaymentDetails struct {
	Method        string
	TransactionID string
	Remarks       string
	RecordedBy    *string
}

// ApplyPayment adds amount to PaidAmount and stamps the payment metadata.
func (r *FeeRecord) ApplyPayment(amount decimal.Decimal, details PaymentDetails, now time.Time) error {
	if !amount.IsPositive() {
		return ErrNonPositivePayment
	}
	r.PaidAmount = r.PaidAmount.Add(amount)
	if details.Method != "" {
		r.PaymentMethod = stringPtr(details.Method)
	}
	if details.TransactionID != "" {
		r.TransactionID = stringPtr(details.TransactionID)
	}
	if details.Remarks != "" {
		r.Remarks = stringPtr(details.Remarks)
	}
	if details.RecordedBy != nil {
		r.RecordedBy = details.RecordedBy
	}
	paidAt := now.UTC()
	r.PaymentDate = &paidAt
	return r.Recompute(now)
}

// DeriveFeeStatus is the single status rule: paid, then partial, then overdue once the
// due date has passed, otherwise unpaid.
func DeriveFeeStatus(amount, paid decimal.Decimal, dueDate, now time.Time) FeeStatus {
	switch {
	case paid.GreaterThanOrEqual(amount):
		return FeeStatusPaid
	case paid.IsPositive():
		return FeeStatusPartial
	case dueDate.Before(now):
		return FeeStatusOverdue
	default:
		return FeeStatusUnpaid
	}
}

// FeePayment is one slice of a payment applied to a single fee record.
type FeePayment struct {
	ID            string          `db:"id" json:"id"`
	FeeRecordID   string          `db:"fee_record_id" json:"feeRecordId"`
	StudentID     string          `db:"student_id" json:"studentId"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	PaymentMethod string          `db:"payment_method" json:"paymentMethod"`
	TransactionID *string         `db:"transaction_id" json:"transactionId,omitempty"`
	Remarks       *string         `db:"remarks" json:"remarks,omitempty"`
	PaidAt        time.Time       `db:"paid_at" json:"paidAt"`
	RecordedBy    *string         `db:"recorded_by" json:"recordedBy,omitempty"`
}

// FeeFilter captures list filters for fee records.
type FeeFilter struct {
	StudentIDs []string
	DueDate    *time.Time
	Status     *FeeStatus
	FeeType    *FeeType
	Page       int
	PageSize   int
}

func stringPtr(v string) *string {
	return &v
}
