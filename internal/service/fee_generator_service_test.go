package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-finance-api/internal/dto"
	"github.com/noah-isme/sma-finance-api/internal/models"
	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
)

var generatorNow = time.Date(2026, 4, 10, 6, 0, 0, 0, time.UTC)

func generatorStudents() *fakeStudentStore {
	return newFakeStudentStore(
		models.Student{ID: "student-a", MonthlyFee: amount(2500), AdmissionDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Active: true},
		models.Student{ID: "student-b", Active: true},
		models.Student{ID: "student-c", MonthlyFee: amount(2500), AdmissionDate: time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC), Active: true},
		models.Student{ID: "student-d", MonthlyFee: amount(2500), Active: false},
	)
}

func newGenerator(fees *fakeFeeStore, students *fakeStudentStore, cache ledgerCache, fallback decimal.Decimal) *FeeGeneratorService {
	svc := NewFeeGeneratorService(fees, students, cache, nil, nil, nil, FeeGeneratorConfig{DefaultMonthlyFee: fallback, Workers: 2})
	svc.now = func() time.Time { return generatorNow }
	return svc
}

func TestFeeGeneratorGenerateIsIdempotent(t *testing.T) {
	fees := newFakeFeeStore(generatorNow)
	cache := newFakeLedgerCache()
	svc := newGenerator(fees, generatorStudents(), cache, amount(2000))

	first, err := svc.Generate(context.Background(), dto.GenerateMonthlyRequest{Month: 4, Year: 2026})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, first.Updated)
	assert.Equal(t, 1, first.Skipped)
	assert.Empty(t, first.Errors)
	assert.Equal(t, models.PeriodDueDate(2026, 4), first.PeriodDueDate)
	assert.ElementsMatch(t, []string{studentAggregateCacheKey("student-a"), studentAggregateCacheKey("student-b")}, cache.invalidated)

	records, err := fees.ListByStudent(context.Background(), "student-b")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].BaseAmount.Equal(amount(2000)))
	assert.Equal(t, models.FeeTypeTuition, records[0].FeeType)
	assert.Equal(t, "Monthly tuition April 2026", records[0].Description)

	second, err := svc.Generate(context.Background(), dto.GenerateMonthlyRequest{Month: 4, Year: 2026})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, fees.records, 2)
}

func TestFeeGeneratorDefaultsToCurrentMonth(t *testing.T) {
	fees := newFakeFeeStore(generatorNow)
	svc := newGenerator(fees, generatorStudents(), nil, amount(2000))

	res, err := svc.Generate(context.Background(), dto.GenerateMonthlyRequest{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Month)
	assert.Equal(t, 2026, res.Year)
}

func TestFeeGeneratorReportsStudentsWithoutFee(t *testing.T) {
	fees := newFakeFeeStore(generatorNow)
	svc := newGenerator(fees, generatorStudents(), nil, decimal.Zero)

	res, err := svc.Generate(context.Background(), dto.GenerateMonthlyRequest{Month: 4, Year: 2026})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "student-b", res.Errors[0].StudentID)
}

func TestFeeGeneratorFeeAmountOverridesDefault(t *testing.T) {
	fees := newFakeFeeStore(generatorNow)
	svc := newGenerator(fees, generatorStudents(), nil, amount(2000))
	override := amount(1800)

	_, err := svc.Generate(context.Background(), dto.GenerateMonthlyRequest{Month: 4, Year: 2026, FeeAmount: &override})
	require.NoError(t, err)
	records, _ := fees.ListByStudent(context.Background(), "student-b")
	require.Len(t, records, 1)
	assert.True(t, records[0].BaseAmount.Equal(amount(1800)))

	negative := amount(-1)
	_, err = svc.Generate(context.Background(), dto.GenerateMonthlyRequest{FeeAmount: &negative})
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))

	_, err = svc.Generate(context.Background(), dto.GenerateMonthlyRequest{Month: 14, Year: 2026})
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))
}

func TestGeneratedMonthsBecomeArrears(t *testing.T) {
	fees := newFakeFeeStore(generatorNow)
	student := models.Student{ID: "student-e", MonthlyFee: amount(2500), AdmissionDate: generatorNow.AddDate(0, -3, 0), Active: true}
	students := newFakeStudentStore(student)
	generator := newGenerator(fees, students, nil, decimal.Zero)

	for month := 1; month <= 3; month++ {
		res, err := generator.Generate(context.Background(), dto.GenerateMonthlyRequest{Month: month, Year: 2026})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
	}

	feeSvc := NewFeeService(fees, students, nil, nil, nil, FeeServiceConfig{})
	feeSvc.now = func() time.Time { return generatorNow }
	arrears, err := feeSvc.Arrears(context.Background(), "student-e")
	require.NoError(t, err)
	assert.Len(t, arrears.Breakdown, 3)
	assert.True(t, arrears.TotalArrears.Equal(amount(7500)))
	assert.Equal(t, "January 2026", arrears.Breakdown[0].Month)
}
