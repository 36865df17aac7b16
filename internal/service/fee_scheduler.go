package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-finance-api/internal/dto"
	"github.com/noah-isme/sma-finance-api/pkg/jobs"
)

const monthlyGenerationJob = "fees.generate_monthly"

type monthlyGenerator interface {
	Generate(ctx context.Context, req dto.GenerateMonthlyRequest) (*dto.GenerateMonthlyResult, error)
}

// FeeSchedulerConfig controls automatic generation.
type FeeSchedulerConfig struct {
	Interval   time.Duration
	MaxRetries int
	JobTimeout time.Duration
}

// FeeScheduler periodically generates the current month's tuition charges.
type FeeScheduler struct {
	generator monthlyGenerator
	queue     *jobs.Queue
	scheduler *jobs.Scheduler
	logger    *zap.Logger
}

// NewFeeScheduler wires a single-worker queue and ticker around the generator.
func NewFeeScheduler(generator monthlyGenerator, logger *zap.Logger, cfg FeeSchedulerConfig) *FeeScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	fs := &FeeScheduler{generator: generator, logger: logger}
	fs.queue = jobs.NewQueue("fee-generation", fs.handle, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 4,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: 30 * time.Second,
		JobTimeout: cfg.JobTimeout,
		Logger:     logger,
	})
	fs.scheduler = jobs.NewScheduler(fs.queue, cfg.Interval, monthlyGenerationJobFor, logger)
	return fs
}

func monthlyGenerationJobFor(now time.Time) jobs.Job {
	return jobs.Job{
		ID:      fmt.Sprintf("%s:%04d-%02d:%d", monthlyGenerationJob, now.Year(), int(now.Month()), now.Unix()),
		Type:    monthlyGenerationJob,
		Payload: dto.GenerateMonthlyRequest{Month: int(now.Month()), Year: now.Year()},
	}
}

// Start begins ticking.
func (f *FeeScheduler) Start(ctx context.Context) {
	f.queue.Start(ctx)
	f.scheduler.Start(ctx)
}

// Stop halts the ticker then drains the worker.
func (f *FeeScheduler) Stop() {
	f.scheduler.Stop()
	f.queue.Stop()
	stats := f.queue.Stats()
	f.logger.Info("fee scheduler stopped",
		zap.Int64("processed", stats.Processed),
		zap.Int64("failed", stats.Failed),
		zap.Int64("retried", stats.Retried),
		zap.Int64("dropped", stats.Dropped),
	)
}

func (f *FeeScheduler) handle(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(dto.GenerateMonthlyRequest)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.Type)
	}
	result, err := f.generator.Generate(ctx, req)
	if err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		f.logger.Warn("scheduled generation finished with errors", zap.String("job_id", job.ID), zap.Int("errors", len(result.Errors)))
	}
	return nil
}
