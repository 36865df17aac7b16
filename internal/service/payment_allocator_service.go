package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
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

const (
	paymentKindAggregate = "aggregate"
	paymentKindSingle    = "single"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type allocatorFeeStore interface {
	FindByIDWithTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.FeeRecord, error)
	ListOutstandingWithTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.FeeRecord, error)
	UpdateWithTx(ctx context.Context, tx *sqlx.Tx, record *models.FeeRecord) error
	InsertPaymentWithTx(ctx context.Context, tx *sqlx.Tx, payment *models.FeePayment) error
	PaymentExistsWithTx(ctx context.Context, tx *sqlx.Tx, transactionID string) (bool, error)
}

type allocatorStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	LockWithTx(ctx context.Context, tx *sqlx.Tx, id string) error
}

type paymentGuard interface {
	Claim(ctx context.Context, transactionID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, transactionID string) error
}

type ledgerCache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// PaymentAllocatorConfig tunes the allocator.
type PaymentAllocatorConfig struct {
	GuardTTL time.Duration
}

// PaymentAllocatorService applies payments to a student's outstanding charges oldest first.
// Each payment runs in one transaction holding a row lock on the student.
type PaymentAllocatorService struct {
	tx        txProvider
	fees      allocatorFeeStore
	students  allocatorStudentStore
	guard     paymentGuard
	cache     ledgerCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       PaymentAllocatorConfig
	now       func() time.Time
}

// NewPaymentAllocatorService constructs the allocator.
func NewPaymentAllocatorService(
	tx txProvider,
	fees allocatorFeeStore,
	students allocatorStudentStore,
	guard paymentGuard,
	cache ledgerCache,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg PaymentAllocatorConfig,
) *PaymentAllocatorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GuardTTL <= 0 {
		cfg.GuardTTL = 24 * time.Hour
	}
	return &PaymentAllocatorService{
		tx:        tx,
		fees:      fees,
		students:  students,
		guard:     guard,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

type allocationSlice struct {
	Index  int
	Amount decimal.Decimal
}

// planAllocation walks records oldest to newest and assigns min(remaining payment, remaining balance)
// to each until the payment runs out. It returns the slices and the unallocated leftover.
func planAllocation(records []models.FeeRecord, payment decimal.Decimal) ([]allocationSlice, decimal.Decimal) {
	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return records[order[a]].PeriodDueDate.Before(records[order[b]].PeriodDueDate)
	})

	remaining := payment
	slices := make([]allocationSlice, 0, len(records))
	for _, idx := range order {
		if !remaining.IsPositive() {
			break
		}
		balance := records[idx].RemainingAmount
		if !balance.IsPositive() {
			continue
		}
		applied := decimal.Min(remaining, balance)
		slices = append(slices, allocationSlice{Index: idx, Amount: applied})
		remaining = remaining.Sub(applied)
	}
	return slices, remaining
}

// ProcessAggregate applies one payment across the student's outstanding charges. Optional fine and
// adjustment values replace those on the most recent outstanding charge before allocation.
func (s *PaymentAllocatorService) ProcessAggregate(ctx context.Context, studentID string, req dto.AggregatePaymentRequest, claims *models.JWTClaims) (result *dto.AggregatePaymentResult, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid payment payload")
	}
	if !req.PaidAmount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "paidAmount must be greater than zero")
	}
	if (req.AbsenceFine != nil && req.AbsenceFine.IsNegative()) || (req.OtherAdjustments != nil && req.OtherAdjustments.IsNegative()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "absenceFine and otherAdjustments must not be negative")
	}
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}

	release, err := s.claim(ctx, req.TransactionID)
	if err != nil {
		s.metrics.RecordPaymentFailure(paymentKindAggregate, true)
		return nil, err
	}
	defer func() {
		if err != nil {
			release()
			s.metrics.RecordPaymentFailure(paymentKindAggregate, errors.Is(err, appErrors.ErrConflict) || errors.Is(err, appErrors.ErrDuplicatePayment))
		}
	}()

	tx, err := s.beginLocked(ctx, studentID, req.TransactionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	outstanding, err := s.fees.ListOutstandingWithTx(ctx, tx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load outstanding fees")
	}
	if len(outstanding) == 0 {
		return nil, appErrors.ErrNoOutstandingFees
	}

	result = &dto.AggregatePaymentResult{
		StudentID:   studentID,
		PaidAmount:  req.PaidAmount,
		Allocations: []dto.AllocationItem{},
	}

	if req.AbsenceFine != nil || req.OtherAdjustments != nil {
		latest := latestRecord(outstanding)
		if err = latest.SetAdjustments(req.AbsenceFine, req.OtherAdjustments, now); err != nil {
			return nil, appErrors.Validation(err, "invalid fee adjustments")
		}
		if err = s.fees.UpdateWithTx(ctx, tx, latest); err != nil {
			return nil, s.mapWriteError(err, "failed to apply fee adjustments")
		}
		adjustedID := latest.ID
		result.AdjustedFeeID = &adjustedID

		outstanding, err = s.fees.ListOutstandingWithTx(ctx, tx, studentID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to reload outstanding fees")
		}
	}

	plan, leftover := planAllocation(outstanding, req.PaidAmount)
	details := models.PaymentDetails{
		Method:        req.PaymentMethod,
		TransactionID: req.TransactionID,
		Remarks:       req.Remarks,
		RecordedBy:    claims.ActorID(),
	}
	allocated := decimal.Zero
	for _, slice := range plan {
		record := &outstanding[slice.Index]
		if err = s.applySlice(ctx, tx, record, slice.Amount, details, now); err != nil {
			return nil, err
		}
		allocated = allocated.Add(slice.Amount)
		result.Allocations = append(result.Allocations, allocationItem(record, slice.Amount))
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit payment")
	}

	result.AllocatedAmount = allocated
	result.UnallocatedAmount = leftover
	result.RecordsUpdated = len(plan)

	s.afterPayment(ctx, studentID)
	s.metrics.RecordPayment(paymentKindAggregate, allocated, leftover)
	s.logger.Info("aggregate payment allocated",
		zap.String("student_id", studentID),
		zap.String("paid_amount", req.PaidAmount.String()),
		zap.String("unallocated", leftover.String()),
		zap.Int("records_updated", result.RecordsUpdated),
	)
	return result, nil
}

// PaySingle applies a payment to one charge. The amount may not exceed its remaining balance.
func (s *PaymentAllocatorService) PaySingle(ctx context.Context, feeID string, req dto.RecordPaymentRequest, claims *models.JWTClaims) (record *models.FeeRecord, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid payment payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be greater than zero")
	}

	release, err := s.claim(ctx, req.TransactionID)
	if err != nil {
		s.metrics.RecordPaymentFailure(paymentKindSingle, true)
		return nil, err
	}
	defer func() {
		if err != nil {
			release()
			s.metrics.RecordPaymentFailure(paymentKindSingle, errors.Is(err, appErrors.ErrConflict) || errors.Is(err, appErrors.ErrDuplicatePayment))
		}
	}()

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

	record, err = s.fees.FindByIDWithTx(ctx, tx, feeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "fee record not found")
		}
		return nil, appErrors.Internal(err, "failed to load fee record")
	}
	if req.TransactionID != "" {
		var exists bool
		exists, err = s.fees.PaymentExistsWithTx(ctx, tx, req.TransactionID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to verify transaction id")
		}
		if exists {
			return nil, appErrors.ErrDuplicatePayment
		}
	}
	if !record.Status.Outstanding() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "fee record is already paid")
	}
	if req.Amount.GreaterThan(record.RemainingAmount) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount exceeds remaining balance")
	}

	details := models.PaymentDetails{
		Method:        req.PaymentMethod,
		TransactionID: req.TransactionID,
		Remarks:       req.Remarks,
		RecordedBy:    claims.ActorID(),
	}
	if err = s.applySlice(ctx, tx, record, req.Amount, details, s.now()); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit payment")
	}

	s.afterPayment(ctx, record.StudentID)
	s.metrics.RecordPayment(paymentKindSingle, req.Amount, decimal.Zero)
	return record, nil
}

func (s *PaymentAllocatorService) ensureStudent(ctx context.Context, studentID string) error {
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

// claim reserves the transaction id and returns a release func for failure paths.
func (s *PaymentAllocatorService) claim(ctx context.Context, transactionID string) (func(), error) {
	noop := func() {}
	if s.guard == nil || transactionID == "" {
		return noop, nil
	}
	ok, err := s.guard.Claim(ctx, transactionID, s.cfg.GuardTTL)
	if err != nil {
		s.logger.Warn("payment guard unavailable", zap.String("transaction_id", transactionID), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, appErrors.ErrDuplicatePayment
	}
	return func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), transactionID); err != nil {
			s.logger.Warn("failed to release payment guard", zap.String("transaction_id", transactionID), zap.Error(err))
		}
	}, nil
}

func (s *PaymentAllocatorService) beginLocked(ctx context.Context, studentID, transactionID string) (*sqlx.Tx, error) {
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	if err := s.students.LockWithTx(ctx, tx, studentID); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to lock student ledger")
	}
	if transactionID != "" {
		exists, err := s.fees.PaymentExistsWithTx(ctx, tx, transactionID)
		if err != nil {
			_ = tx.Rollback()
			return nil, appErrors.Internal(err, "failed to verify transaction id")
		}
		if exists {
			_ = tx.Rollback()
			return nil, appErrors.ErrDuplicatePayment
		}
	}
	return tx, nil
}

func (s *PaymentAllocatorService) applySlice(ctx context.Context, tx *sqlx.Tx, record *models.FeeRecord, amount decimal.Decimal, details models.PaymentDetails, now time.Time) error {
	if err := record.ApplyPayment(amount, details, now); err != nil {
		return appErrors.Validation(err, "invalid payment amount")
	}
	if err := s.fees.UpdateWithTx(ctx, tx, record); err != nil {
		return s.mapWriteError(err, "failed to record payment")
	}
	payment := &models.FeePayment{
		FeeRecordID:   record.ID,
		StudentID:     record.StudentID,
		Amount:        amount,
		PaymentMethod: details.Method,
		TransactionID: optionalString(details.TransactionID),
		Remarks:       optionalString(details.Remarks),
		PaidAt:        now.UTC(),
		RecordedBy:    details.RecordedBy,
	}
	if err := s.fees.InsertPaymentWithTx(ctx, tx, payment); err != nil {
		return appErrors.Internal(err, "failed to record payment history")
	}
	return nil
}

func (s *PaymentAllocatorService) mapWriteError(err error, message string) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "fee record changed concurrently, retry the payment")
	}
	if errors.Is(err, models.ErrPaidAmountDecrease) {
		return appErrors.Validation(err, "paid amount cannot be reduced")
	}
	return appErrors.Internal(err, message)
}

func (s *PaymentAllocatorService) afterPayment(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, studentAggregateCacheKey(studentID)); err != nil {
		s.logger.Warn("failed to invalidate student aggregate", zap.String("student_id", studentID), zap.Error(err))
	}
}

// latestRecord returns the outstanding record with the highest due date.
func latestRecord(records []models.FeeRecord) *models.FeeRecord {
	latest := 0
	for i := range records {
		if !records[i].PeriodDueDate.Before(records[latest].PeriodDueDate) {
			latest = i
		}
	}
	return &records[latest]
}

func allocationItem(record *models.FeeRecord, applied decimal.Decimal) dto.AllocationItem {
	return dto.AllocationItem{
		FeeID:           record.ID,
		FeeType:         record.FeeType,
		Month:           models.MonthLabel(record.PeriodDueDate),
		PeriodDueDate:   record.PeriodDueDate,
		Applied:         applied,
		RemainingAmount: record.RemainingAmount,
		Status:          record.Status,
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
