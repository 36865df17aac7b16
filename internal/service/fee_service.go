package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-finance-api/internal/dto"
	"github.com/noah-isme/sma-finance-api/internal/models"
	"github.com/noah-isme/sma-finance-api/internal/repository"
	"github.com/noah-isme/sma-finance-api/pkg/database"
	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
)

const aggregateCachePrefix = "fees:aggregate:"

func studentAggregateCacheKey(studentID string) string {
	return aggregateCachePrefix + studentID
}

type feeStore interface {
	CreateBatch(ctx context.Context, records []*models.FeeRecord) error
	Update(ctx context.Context, record *models.FeeRecord) error
	FindByID(ctx context.Context, id string) (*models.FeeRecord, error)
	List(ctx context.Context, filter models.FeeFilter) ([]models.FeeRecord, int, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.FeeRecord, error)
	ListOutstanding(ctx context.Context, studentID string) ([]models.FeeRecord, error)
	ListPayments(ctx context.Context, studentID string) ([]models.FeePayment, error)
	DeleteOrphaned(ctx context.Context) ([]string, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type aggregateCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
	InvalidatePattern(ctx context.Context, pattern string) error
}

// FeeServiceConfig carries ledger defaults.
type FeeServiceConfig struct {
	DefaultMonthlyFee decimal.Decimal
	SummaryCacheTTL   time.Duration
}

// FeeService exposes fee record CRUD and the read-side projections of the ledger.
type FeeService struct {
	fees      feeStore
	students  studentReader
	cache     aggregateCache
	validator *validator.Validate
	logger    *zap.Logger
	cfg       FeeServiceConfig
	now       func() time.Time
}

// NewFeeService constructs a FeeService.
func NewFeeService(fees feeStore, students studentReader, cache aggregateCache, validate *validator.Validate, logger *zap.Logger, cfg FeeServiceConfig) *FeeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SummaryCacheTTL <= 0 {
		cfg.SummaryCacheTTL = 5 * time.Minute
	}
	return &FeeService{
		fees:      fees,
		students:  students,
		cache:     cache,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// List returns fee records filtered by students, period, type and status.
func (s *FeeService) List(ctx context.Context, query dto.FeeListQuery) ([]models.FeeRecord, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Validation(err, "invalid fee filter")
	}
	if query.Month != 0 && query.Year == 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "year is required when month is provided")
	}

	filter := models.FeeFilter{StudentIDs: query.StudentIDs, Page: query.Page, PageSize: query.Limit}
	if query.Month != 0 {
		due := models.PeriodDueDate(query.Year, query.Month)
		filter.DueDate = &due
	}
	if query.Status != "" {
		status := models.FeeStatus(strings.ToLower(query.Status))
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
		}
		filter.Status = &status
	}
	if query.FeeType != "" {
		feeType := models.FeeType(strings.ToLower(query.FeeType))
		if !feeType.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid feeType filter")
		}
		filter.FeeType = &feeType
	}

	records, total, err := s.fees.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list fees")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Create adds one charge, or a tuition and exam pair when feeType is "all".
func (s *FeeService) Create(ctx context.Context, req dto.CreateFeeRequest, claims *models.JWTClaims) ([]models.FeeRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid fee payload")
	}
	dueDate, err := resolveDueDate(req)
	if err != nil {
		return nil, err
	}
	student, err := s.loadStudent(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is inactive")
	}

	base := student.MonthlyFeeOr(s.cfg.DefaultMonthlyFee)
	if req.BaseAmount != nil {
		base = *req.BaseAmount
	}
	fine := decimalOrZero(req.AbsenceFine)
	other := decimalOrZero(req.OtherAdjustments)

	types := []models.FeeType{models.FeeType(req.FeeType)}
	if types[0] == models.FeeTypeAll {
		types = models.BundledFeeTypes
	}

	now := s.now()
	records := make([]*models.FeeRecord, 0, len(types))
	for _, feeType := range types {
		record, err := models.NewFeeRecord(student.ID, feeType, dueDate, base, fine, other, now)
		if err != nil {
			return nil, appErrors.Validation(err, "invalid fee amounts")
		}
		record.Description = req.Description
		record.Remarks = optionalString(req.Remarks)
		record.RecordedBy = claims.ActorID()
		records = append(records, record)
	}

	if err := s.fees.CreateBatch(ctx, records); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "fee already exists for this student, type and period")
		}
		if errors.Is(err, models.ErrNegativeAmount) {
			return nil, appErrors.Validation(err, "invalid fee amounts")
		}
		return nil, appErrors.Internal(err, "failed to create fee")
	}
	s.invalidate(ctx, student.ID)

	created := make([]models.FeeRecord, len(records))
	for i, record := range records {
		created[i] = *record
	}
	return created, nil
}

// Get returns a fee record by id.
func (s *FeeService) Get(ctx context.Context, id string) (*models.FeeRecord, error) {
	record, err := s.fees.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee record not found")
		}
		return nil, appErrors.Internal(err, "failed to load fee record")
	}
	return record, nil
}

// Update changes the amounts or descriptive fields of a charge. Derived fields are recomputed on save.
func (s *FeeService) Update(ctx context.Context, id string, req dto.UpdateFeeRequest, claims *models.JWTClaims) (*models.FeeRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid fee payload")
	}
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Description != nil {
		record.Description = *req.Description
	}
	if req.Remarks != nil {
		record.Remarks = optionalString(*req.Remarks)
	}
	if req.BaseAmount != nil {
		record.BaseAmount = *req.BaseAmount
	}
	if err := record.SetAdjustments(req.AbsenceFine, req.OtherAdjustments, s.now()); err != nil {
		return nil, appErrors.Validation(err, "invalid fee amounts")
	}
	if actor := claims.ActorID(); actor != nil {
		record.RecordedBy = actor
	}

	if err := s.fees.Update(ctx, record); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "fee record changed concurrently")
		}
		if errors.Is(err, models.ErrPaidAmountDecrease) {
			return nil, appErrors.Validation(err, "paid amount cannot be reduced")
		}
		return nil, appErrors.Internal(err, "failed to update fee record")
	}
	s.invalidate(ctx, record.StudentID)
	return record, nil
}

// Arrears returns the student's outstanding balance for months before the current one.
func (s *FeeService) Arrears(ctx context.Context, studentID string) (*dto.ArrearsResponse, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	records, err := s.fees.ListOutstanding(ctx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load outstanding fees")
	}
	result := computeArrears(student.ID, student.AdmissionDate, records, s.now())
	return &result, nil
}

// StudentAggregate summarises the current month and arrears. The bool reports a cache hit.
func (s *FeeService) StudentAggregate(ctx context.Context, studentID string) (*dto.StudentAggregateResponse, bool, error) {
	key := studentAggregateCacheKey(studentID)
	if s.cache != nil {
		var cached dto.StudentAggregateResponse
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, false, err
	}
	records, err := s.fees.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to load student fees")
	}

	now := s.now()
	current := models.EndOfMonth(now)
	summary := &dto.StudentAggregateResponse{
		StudentID:          student.ID,
		StudentName:        student.FullName,
		Month:              models.MonthLabel(current),
		CurrentMonthBase:   decimal.Zero,
		CurrentMonthFines:  decimal.Zero,
		CurrentMonthAmount: decimal.Zero,
		CurrentMonthPaid:   decimal.Zero,
		CurrentMonthDue:    decimal.Zero,
		GeneratedAt:        now.UTC(),
	}
	for _, record := range records {
		if !record.PeriodDueDate.Equal(current) {
			continue
		}
		summary.CurrentMonthBase = summary.CurrentMonthBase.Add(record.BaseAmount)
		summary.CurrentMonthFines = summary.CurrentMonthFines.Add(record.AbsenceFine).Add(record.OtherAdjustments)
		summary.CurrentMonthAmount = summary.CurrentMonthAmount.Add(record.Amount)
		summary.CurrentMonthPaid = summary.CurrentMonthPaid.Add(record.PaidAmount)
		summary.CurrentMonthDue = summary.CurrentMonthDue.Add(record.RemainingAmount)
	}
	arrears := computeArrears(student.ID, student.AdmissionDate, records, now)
	summary.TotalArrears = arrears.TotalArrears
	summary.ArrearsBreakdown = arrears.Breakdown
	summary.TotalPayable = summary.CurrentMonthDue.Add(arrears.TotalArrears)

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, summary, s.cfg.SummaryCacheTTL)
	}
	return summary, false, nil
}

// Statement returns the student's full ledger with totals and payment history.
func (s *FeeService) Statement(ctx context.Context, studentID string) (*dto.StatementResponse, error) {
	student, err := s.loadStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	records, err := s.fees.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load student fees")
	}
	payments, err := s.fees.ListPayments(ctx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load payment history")
	}
	if records == nil {
		records = []models.FeeRecord{}
	}
	if payments == nil {
		payments = []models.FeePayment{}
	}

	totals := dto.StatementTotals{
		TotalAmount:    decimal.Zero,
		TotalPaid:      decimal.Zero,
		TotalRemaining: decimal.Zero,
		TotalFines:     decimal.Zero,
	}
	for _, record := range records {
		totals.TotalAmount = totals.TotalAmount.Add(record.Amount)
		totals.TotalPaid = totals.TotalPaid.Add(record.PaidAmount)
		totals.TotalRemaining = totals.TotalRemaining.Add(record.RemainingAmount)
		totals.TotalFines = totals.TotalFines.Add(record.AbsenceFine).Add(record.OtherAdjustments)
	}

	return &dto.StatementResponse{
		StudentID:   student.ID,
		StudentName: student.FullName,
		NIS:         student.NIS,
		Records:     records,
		Payments:    payments,
		Totals:      totals,
		GeneratedAt: s.now().UTC(),
	}, nil
}

// CleanupOrphaned deletes charges whose student is missing or inactive.
func (s *FeeService) CleanupOrphaned(ctx context.Context) (*dto.CleanupResult, error) {
	studentIDs, err := s.fees.DeleteOrphaned(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to clean up orphaned fees")
	}
	if len(studentIDs) > 0 && s.cache != nil {
		if err := s.cache.InvalidatePattern(ctx, aggregateCachePrefix+"*"); err != nil {
			s.logger.Warn("failed to invalidate aggregates after cleanup", zap.Error(err))
		}
	}
	s.logger.Info("orphaned fee records removed", zap.Int("deleted", len(studentIDs)))
	return &dto.CleanupResult{Deleted: len(studentIDs)}, nil
}

func (s *FeeService) loadStudent(ctx context.Context, studentID string) (*models.Student, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "studentId is required")
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	return student, nil
}

func (s *FeeService) invalidate(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, studentAggregateCacheKey(studentID)); err != nil {
		s.logger.Warn("failed to invalidate student aggregate", zap.String("student_id", studentID), zap.Error(err))
	}
}

func resolveDueDate(req dto.CreateFeeRequest) (time.Time, error) {
	if req.DueDate != nil && !req.DueDate.IsZero() {
		return models.EndOfMonth(*req.DueDate), nil
	}
	if req.Month == 0 && req.Year == 0 {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "dueDate or month and year are required")
	}
	if req.Month == 0 || req.Year == 0 {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "month and year must be provided together")
	}
	return models.PeriodDueDate(req.Year, req.Month), nil
}

func decimalOrZero(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}
