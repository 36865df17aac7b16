package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobFactory builds the job to enqueue for a tick.
type JobFactory func(now time.Time) Job

// Scheduler enqueues a job on a fixed interval. The first tick fires immediately.
type Scheduler struct {
	queue    *Queue
	factory  JobFactory
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewScheduler constructs a scheduler for queue.
func NewScheduler(queue *Queue, interval time.Duration, factory JobFactory, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		queue:    queue,
		factory:  factory,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the ticker loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	job := s.factory(s.now())
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue scheduled job", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
	}
}
