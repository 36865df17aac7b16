package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MonthlyAbsenceEntry records the fine outcome of one calendar month.
type MonthlyAbsenceEntry struct {
	Year                   int             `json:"year"`
	Month                  int             `json:"month"`
	AbsenceCount           int             `json:"absenceCount"`
	HadExcessiveAbsences   bool            `json:"hadExcessiveAbsences"`
	FineAmount             decimal.Decimal `json:"fineAmount"`
	ConsecutiveMonthNumber int             `json:"consecutiveMonthNumber"`
}

// Before orders entries chronologically.
func (e MonthlyAbsenceEntry) Before(other MonthlyAbsenceEntry) bool {
	if e.Year != other.Year {
		return e.Year < other.Year
	}
	return e.Month < other.Month
}

// AbsenceHistory is stored as a JSONB array, most recent month first.
type AbsenceHistory []MonthlyAbsenceEntry

// Value implements driver.Valuer.
func (h AbsenceHistory) Value() (driver.Value, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	payload, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode absence history: %w", err)
	}
	return payload, nil
}

// Scan implements sql.Scanner.
func (h *AbsenceHistory) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = AbsenceHistory{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported absence history type %T", src)
	}
	if len(raw) == 0 {
		*h = AbsenceHistory{}
		return nil
	}
	var entries AbsenceHistory
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("decode absence history: %w", err)
	}
	*h = entries
	return nil
}

// AbsenceFineTracking is the per-student escalation state.
type AbsenceFineTracking struct {
	StudentID                              string         `db:"student_id" json:"studentId"`
	ConsecutiveMonthsWithExcessiveAbsences int            `db:"consecutive_months_with_excessive" json:"consecutiveMonthsWithExcessiveAbsences"`
	LastExcessiveAbsenceMonth              *time.Time     `db:"last_excessive_absence_month" json:"lastExcessiveAbsenceMonth"`
	MonthlyAbsenceHistory                  AbsenceHistory `db:"monthly_absence_history" json:"monthlyAbsenceHistory"`
	CreatedAt                              time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt                              time.Time      `db:"updated_at" json:"updatedAt"`
}

// NewAbsenceFineTracking returns the default state for a student with no history.
func NewAbsenceFineTracking(studentID string) *AbsenceFineTracking {
	return &AbsenceFineTracking{StudentID: studentID, MonthlyAbsenceHistory: AbsenceHistory{}}
}
