package service

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-finance-api/internal/models"
)

const (
	defaultAllowedAbsences     = 3
	defaultAbsenceFineUnit     = 500
	defaultAbsenceHistoryLimit = 12
)

// AbsenceFinePolicy holds the escalation constants.
type AbsenceFinePolicy struct {
	AllowedAbsences int
	BaseFineUnit    decimal.Decimal
	HistoryLimit    int
}

func (p AbsenceFinePolicy) withDefaults() AbsenceFinePolicy {
	if p.AllowedAbsences <= 0 {
		p.AllowedAbsences = defaultAllowedAbsences
	}
	if !p.BaseFineUnit.IsPositive() {
		p.BaseFineUnit = decimal.NewFromInt(defaultAbsenceFineUnit)
	}
	if p.HistoryLimit <= 0 {
		p.HistoryLimit = defaultAbsenceHistoryLimit
	}
	return p
}

type absenceMonth struct {
	Year         int
	Month        int
	AbsenceCount int
}

type absenceFineOutcome struct {
	Entry              models.MonthlyAbsenceEntry
	ShouldResetCounter bool
}

// escalateAbsenceFine derives the next tracking state from the prior one and a month's absences.
// The fine grows linearly with the run of consecutive excessive months.
func escalateAbsenceFine(prior models.AbsenceFineTracking, input absenceMonth, policy AbsenceFinePolicy) (models.AbsenceFineTracking, absenceFineOutcome) {
	policy = policy.withDefaults()
	next := prior
	next.MonthlyAbsenceHistory = append(models.AbsenceHistory(nil), prior.MonthlyAbsenceHistory...)

	entry := models.MonthlyAbsenceEntry{
		Year:         input.Year,
		Month:        input.Month,
		AbsenceCount: input.AbsenceCount,
		FineAmount:   decimal.Zero,
	}
	outcome := absenceFineOutcome{}

	if input.AbsenceCount <= policy.AllowedAbsences {
		outcome.ShouldResetCounter = true
		next.ConsecutiveMonthsWithExcessiveAbsences = 0
		next.LastExcessiveAbsenceMonth = nil
	} else {
		target := time.Date(input.Year, time.Month(input.Month), 1, 0, 0, 0, 0, time.UTC)
		number := 1
		if prior.LastExcessiveAbsenceMonth != nil {
			last := models.StartOfMonth(*prior.LastExcessiveAbsenceMonth)
			followYear, followMonth := models.NextMonth(last.Year(), int(last.Month()))
			switch {
			case last.Equal(target):
				number = max(prior.ConsecutiveMonthsWithExcessiveAbsences, 1)
			case followYear == input.Year && followMonth == input.Month:
				number = prior.ConsecutiveMonthsWithExcessiveAbsences + 1
			}
		}
		entry.HadExcessiveAbsences = true
		entry.ConsecutiveMonthNumber = number
		entry.FineAmount = policy.BaseFineUnit.Mul(decimal.NewFromInt(int64(number)))
		next.ConsecutiveMonthsWithExcessiveAbsences = number
		next.LastExcessiveAbsenceMonth = &target
	}

	next.MonthlyAbsenceHistory = upsertAbsenceEntry(next.MonthlyAbsenceHistory, entry, policy.HistoryLimit)
	outcome.Entry = entry
	return next, outcome
}

func upsertAbsenceEntry(history models.AbsenceHistory, entry models.MonthlyAbsenceEntry, limit int) models.AbsenceHistory {
	replaced := false
	for i := range history {
		if history[i].Year == entry.Year && history[i].Month == entry.Month {
			history[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		history = append(history, entry)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[j].Before(history[i])
	})
	if len(history) > limit {
		history = history[:limit]
	}
	return history
}
