package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobTimeout = 30 * time.Minute

// Job represents a scheduled job
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu        sync.Mutex
	jobs      map[string]Job
	isRunning bool
}

// NewScheduler creates a new scheduler. Specs carry a leading seconds field.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	cronLogger := cron.VerbosePrintfLogger(zap.NewStdLog(logger.Named("cron")))

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger: logger,
		jobs:   make(map[string]Job),
	}
}

func (s *Scheduler) register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	s.jobs[name] = job
	return nil
}

func (s *Scheduler) unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

func (s *Scheduler) runner(job Job) cron.FuncJob {
	name := job.Name()
	return func() {
		s.logger.Info("starting scheduled job", zap.String("job", name))
		startTime := time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if err := job.Run(ctx); err != nil {
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.logger.Info("job completed", zap.String("job", name), zap.Duration("took", time.Since(startTime)))
	}
}

// AddJob adds a job to the scheduler with a cron specification
func (s *Scheduler) AddJob(spec string, job Job) error {
	if err := s.register(job); err != nil {
		return err
	}
	if _, err := s.cron.AddJob(spec, s.runner(job)); err != nil {
		s.unregister(job.Name())
		return fmt.Errorf("failed to add job %s: %w", job.Name(), err)
	}
	return nil
}

// AddEveryJob runs job at a fixed interval
func (s *Scheduler) AddEveryJob(interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("failed to add job %s: interval must be positive", job.Name())
	}
	if err := s.register(job); err != nil {
		return err
	}
	s.cron.Schedule(cron.Every(interval), s.runner(job))
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.cron.Start()
	s.isRunning = true
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// RunJobNow runs a job immediately outside of schedule
func (s *Scheduler) RunJobNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, exists := s.jobs[name]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not registered", name)
	}

	s.logger.Info("manually running job", zap.String("job", name))
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	return job.Run(ctx)
}
