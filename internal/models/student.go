package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Student is the subset of the student roster the ledger depends on.
type Student struct {
	ID            string          `db:"id" json:"id"`
	NIS           string          `db:"nis" json:"nis"`
	FullName      string          `db:"full_name" json:"fullName"`
	MonthlyFee    decimal.Decimal `db:"monthly_fee" json:"monthlyFee"`
	AdmissionDate time.Time       `db:"admission_date" json:"admissionDate"`
	Active        bool            `db:"active" json:"active"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// MonthlyFeeOr returns the student's own monthly fee, or fallback when none is set.
func (s Student) MonthlyFeeOr(fallback decimal.Decimal) decimal.Decimal {
	if s.MonthlyFee.IsPositive() {
		return s.MonthlyFee
	}
	return fallback
}

// AdmittedBy reports whether the student was admitted on or before t.
func (s Student) AdmittedBy(t time.Time) bool {
	if s.AdmissionDate.IsZero() {
		return true
	}
	return !StartOfDay(s.AdmissionDate).After(t)
}
