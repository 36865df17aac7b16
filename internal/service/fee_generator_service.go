package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-finance-api/internal/dto"
	"github.com/noah-isme/sma-finance-api/internal/models"
	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
)

type generatorFeeStore interface {
	CreateIfAbsent(ctx context.Context, record *models.FeeRecord) (bool, error)
}

type generatorStudentLister interface {
	ListActive(ctx context.Context) ([]models.Student, error)
}

// FeeGeneratorConfig tunes monthly generation.
type FeeGeneratorConfig struct {
	DefaultMonthlyFee decimal.Decimal
	Workers           int
}

// FeeGeneratorService materialises one tuition charge per active student per billing period.
// Creation relies on the (student, type, period) unique key so repeated runs never duplicate.
type FeeGeneratorService struct {
	fees      generatorFeeStore
	students  generatorStudentLister
	cache     ledgerCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       FeeGeneratorConfig
	now       func() time.Time
}

// NewFeeGeneratorService constructs the generator.
func NewFeeGeneratorService(fees generatorFeeStore, students generatorStudentLister, cache ledgerCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg FeeGeneratorConfig) *FeeGeneratorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &FeeGeneratorService{
		fees:      fees,
		students:  students,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Generate bills every active student for the requested month. Per-student failures are
// reported in the result and do not abort the run.
func (s *FeeGeneratorService) Generate(ctx context.Context, req dto.GenerateMonthlyRequest) (*dto.GenerateMonthlyResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid generation payload")
	}
	fallback := s.cfg.DefaultMonthlyFee
	if req.FeeAmount != nil {
		if req.FeeAmount.IsNegative() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "feeAmount must not be negative")
		}
		fallback = *req.FeeAmount
	}

	started := s.now()
	year, month := req.Year, req.Month
	if year == 0 {
		year = started.Year()
	}
	if month == 0 {
		month = int(started.Month())
	}
	due := models.PeriodDueDate(year, month)

	students, err := s.students.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list active students")
	}

	result := &dto.GenerateMonthlyResult{
		Month:         month,
		Year:          year,
		PeriodDueDate: due,
		Errors:        []dto.GenerationError{},
	}
	var (
		mu      sync.Mutex
		touched []string
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Workers)
	for _, student := range students {
		student := student
		group.Go(func() error {
			if !student.AdmittedBy(due) {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}
			created, genErr := s.generateFor(groupCtx, student, due, fallback)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case genErr != nil:
				result.Errors = append(result.Errors, dto.GenerationError{StudentID: student.ID, Error: genErr.Error()})
			case created:
				result.Created++
				touched = append(touched, student.ID)
			default:
				result.Updated++
			}
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(result.Errors, func(i, j int) bool {
		return result.Errors[i].StudentID < result.Errors[j].StudentID
	})
	s.invalidate(ctx, touched)
	s.metrics.RecordGeneration(result.Created, result.Updated, result.Skipped, len(result.Errors), time.Since(started))
	s.logger.Info("monthly fees generated",
		zap.String("period", models.MonthLabel(due)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *FeeGeneratorService) generateFor(ctx context.Context, student models.Student, due time.Time, fallback decimal.Decimal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	base := student.MonthlyFeeOr(fallback)
	if !base.IsPositive() {
		return false, appErrors.Clone(appErrors.ErrValidation, "no monthly fee configured for student")
	}
	record, err := models.NewFeeRecord(student.ID, models.FeeTypeTuition, due, base, decimal.Zero, decimal.Zero, s.now())
	if err != nil {
		return false, err
	}
	record.Description = "Monthly tuition " + models.MonthLabel(due)
	created, err := s.fees.CreateIfAbsent(ctx, record)
	if err != nil {
		s.logger.Warn("failed to generate monthly fee", zap.String("student_id", student.ID), zap.Error(err))
		return false, err
	}
	return created, nil
}

func (s *FeeGeneratorService) invalidate(ctx context.Context, studentIDs []string) {
	if s.cache == nil || len(studentIDs) == 0 {
		return
	}
	keys := make([]string, len(studentIDs))
	for i, id := range studentIDs {
		keys[i] = studentAggregateCacheKey(id)
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("failed to invalidate student aggregates", zap.Int("students", len(keys)), zap.Error(err))
	}
}
