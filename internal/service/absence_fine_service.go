package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-finance-api/internal/dto"
	"github.com/noah-isme/sma-finance-api/internal/models"
	"github.com/noah-isme/sma-finance-api/internal/repository"
	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
)

type absenceFineStore interface {
	Get(ctx context.Context, studentID string) (*models.AbsenceFineTracking, error)
	GetOrCreateForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, studentID string) (*models.AbsenceFineTracking, error)
	UpsertWithTx(ctx context.Context, tx *sqlx.Tx, tracking *models.AbsenceFineTracking) error
}

type absenceFeeStore interface {
	FindForPeriodWithTx(ctx context.Context, tx *sqlx.Tx, studentID string, feeType models.FeeType, dueDate time.Time) (*models.FeeRecord, error)
	UpdateWithTx(ctx context.Context, tx *sqlx.Tx, record *models.FeeRecord) error
}

// AbsenceFineService tracks consecutive months of excessive absence and prices the fine.
type AbsenceFineService struct {
	tx        txProvider
	tracking  absenceFineStore
	fees      absenceFeeStore
	students  studentReader
	cache     ledgerCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	policy    AbsenceFinePolicy
	now       func() time.Time
}

// NewAbsenceFineService constructs the service.
func NewAbsenceFineService(
	tx txProvider,
	tracking absenceFineStore,
	fees absenceFeeStore,
	students studentReader,
	cache ledgerCache,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	policy AbsenceFinePolicy,
) *AbsenceFineService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AbsenceFineService{
		tx:        tx,
		tracking:  tracking,
		fees:      fees,
		students:  students,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		policy:    policy.withDefaults(),
		now:       time.Now,
	}
}

// Calculate prices the month's absences, persists the tracking state and, unless disabled,
// writes the fine onto that month's tuition charge.
func (s *AbsenceFineService) Calculate(ctx context.Context, req dto.CalculateAbsenceFineRequest) (result *dto.AbsenceFineResult, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid absence fine payload")
	}
	if err := s.ensureStudent(ctx, req.StudentID); err != nil {
		return nil, err
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	prior, err := s.tracking.GetOrCreateForUpdateWithTx(ctx, tx, req.StudentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load absence tracking")
	}
	next, outcome := escalateAbsenceFine(*prior, absenceMonth{Year: req.Year, Month: req.Month, AbsenceCount: *req.AbsenceCount}, s.policy)
	if err = s.tracking.UpsertWithTx(ctx, tx, &next); err != nil {
		return nil, appErrors.Internal(err, "failed to save absence tracking")
	}

	result = &dto.AbsenceFineResult{
		StudentID:              req.StudentID,
		Year:                   req.Year,
		Month:                  req.Month,
		AbsenceCount:           outcome.Entry.AbsenceCount,
		AllowedAbsences:        s.policy.AllowedAbsences,
		HadExcessiveAbsences:   outcome.Entry.HadExcessiveAbsences,
		FineAmount:             outcome.Entry.FineAmount,
		ConsecutiveMonthNumber: outcome.Entry.ConsecutiveMonthNumber,
		ShouldResetCounter:     outcome.ShouldResetCounter,
	}

	if req.ApplyToFee == nil || *req.ApplyToFee {
		var applied *string
		applied, err = s.applyToTuition(ctx, tx, req.StudentID, models.PeriodDueDate(req.Year, req.Month), outcome.Entry.FineAmount)
		if err != nil {
			return nil, err
		}
		result.AppliedFeeID = applied
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit absence fine")
	}

	if result.AppliedFeeID != nil && s.cache != nil {
		if cacheErr := s.cache.Invalidate(ctx, studentAggregateCacheKey(req.StudentID)); cacheErr != nil {
			s.logger.Warn("failed to invalidate student aggregate", zap.String("student_id", req.StudentID), zap.Error(cacheErr))
		}
	}
	s.metrics.RecordAbsenceFine(result.HadExcessiveAbsences)
	s.logger.Info("absence fine calculated",
		zap.String("student_id", req.StudentID),
		zap.Int("year", req.Year),
		zap.Int("month", req.Month),
		zap.Int("consecutive_month", result.ConsecutiveMonthNumber),
		zap.String("fine", result.FineAmount.String()),
	)
	return result, nil
}

// applyToTuition replaces the absence fine on the period's tuition charge. Missing or settled
// charges are left alone.
func (s *AbsenceFineService) applyToTuition(ctx context.Context, tx *sqlx.Tx, studentID string, due time.Time, fine decimal.Decimal) (*string, error) {
	record, err := s.fees.FindForPeriodWithTx(ctx, tx, studentID, models.FeeTypeTuition, due)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load tuition fee")
	}
	if record.Status == models.FeeStatusPaid || record.AbsenceFine.Equal(fine) {
		return nil, nil
	}
	if err := record.SetAdjustments(&fine, nil, s.now()); err != nil {
		return nil, appErrors.Validation(err, "invalid absence fine")
	}
	if err := s.fees.UpdateWithTx(ctx, tx, record); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "tuition fee changed concurrently")
		}
		return nil, appErrors.Internal(err, "failed to apply absence fine")
	}
	id := record.ID
	return &id, nil
}

// History returns the tracking row for a student.
func (s *AbsenceFineService) History(ctx context.Context, studentID string) (*dto.AbsenceFineHistoryResponse, error) {
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	tracking, err := s.tracking.Get(ctx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load absence tracking")
	}
	return historyResponse(tracking), nil
}

// Reset clears the consecutive-month counter. History entries are kept.
func (s *AbsenceFineService) Reset(ctx context.Context, studentID string) (resp *dto.AbsenceFineHistoryResponse, err error) {
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	tracking, err := s.tracking.GetOrCreateForUpdateWithTx(ctx, tx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load absence tracking")
	}
	tracking.ConsecutiveMonthsWithExcessiveAbsences = 0
	tracking.LastExcessiveAbsenceMonth = nil
	if err = s.tracking.UpsertWithTx(ctx, tx, tracking); err != nil {
		return nil, appErrors.Internal(err, "failed to reset absence tracking")
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit absence reset")
	}
	s.logger.Info("absence fine counter reset", zap.String("student_id", studentID))
	return historyResponse(tracking), nil
}

func (s *AbsenceFineService) ensureStudent(ctx context.Context, studentID string) error {
	if studentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "studentId is required")
	}
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Internal(err, "failed to load student")
	}
	return nil
}

func historyResponse(tracking *models.AbsenceFineTracking) *dto.AbsenceFineHistoryResponse {
	resp := &dto.AbsenceFineHistoryResponse{
		StudentID:                              tracking.StudentID,
		ConsecutiveMonthsWithExcessiveAbsences: tracking.ConsecutiveMonthsWithExcessiveAbsences,
		MonthlyAbsenceHistory:                  tracking.MonthlyAbsenceHistory,
		TotalFines:                             decimal.Zero,
	}
	if resp.MonthlyAbsenceHistory == nil {
		resp.MonthlyAbsenceHistory = models.AbsenceHistory{}
	}
	if tracking.LastExcessiveAbsenceMonth != nil {
		label := tracking.LastExcessiveAbsenceMonth.Format("2006-01-02")
		resp.LastExcessiveAbsenceMonth = &label
	}
	for _, entry := range resp.MonthlyAbsenceHistory {
		resp.TotalFines = resp.TotalFines.Add(entry.FineAmount)
	}
	return resp
}
