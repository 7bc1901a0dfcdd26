package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/invigilation-planner/internal/dto"
	appErrors "github.com/noah-isme/invigilation-planner/pkg/errors"
	"github.com/noah-isme/invigilation-planner/pkg/jobs"
)

const planJobType = "plan"

type jobPlanner interface {
	PlanJob(ctx context.Context, req dto.PlanRequest) (*dto.PlanResponse, error)
}

// PlanJobConfig tunes the asynchronous planning queue.
type PlanJobConfig struct {
	Workers    int
	BufferSize int
	// JobTimeout caps one job on top of the solver time budget.
	JobTimeout time.Duration
	ResultTTL  time.Duration
}

// PlanJobService runs planning requests on a background worker pool.
type PlanJobService struct {
	plans     jobPlanner
	queue     *jobs.Queue
	jobs      *ttlStore[dto.JobResponse]
	validator *validator.Validate
	logger    *zap.Logger
	timeout   time.Duration
}

// NewPlanJobService builds the job service and its queue. Call Start before submitting.
func NewPlanJobService(plans jobPlanner, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg PlanJobConfig) *PlanJobService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 30 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	svc := &PlanJobService{
		plans:     plans,
		jobs:      newTTLStore[dto.JobResponse](cfg.ResultTTL),
		validator: validate,
		logger:    logger,
		timeout:   cfg.JobTimeout,
	}
	svc.queue = jobs.NewQueue("planner", svc.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
		OnDepth:    metrics.SetQueueDepth,
	})
	return svc
}

// Start launches the workers.
func (s *PlanJobService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop cancels running jobs and waits for the workers.
func (s *PlanJobService) Stop() {
	s.queue.Stop()
}

// Submit validates and enqueues a planning request.
func (s *PlanJobService) Submit(req dto.PlanRequest) (*dto.JobResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid planning payload")
	}
	job := dto.JobResponse{JobID: uuid.NewString(), Status: dto.JobStatusQueued, EnqueuedAt: time.Now().UTC()}
	s.jobs.Save(job.JobID, job)

	err := s.queue.Enqueue(jobs.Job{ID: job.JobID, Type: planJobType, Payload: req, Enqueued: job.EnqueuedAt})
	if err != nil {
		s.jobs.Delete(job.JobID)
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "planning queue is full, retry later")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "planning queue is not running")
	}
	s.logger.Info("planning job queued", zap.String("job_id", job.JobID), zap.Int("rows", len(req.Rows)))
	return &job, nil
}

// Get reports a job's status and, once done, its plan.
func (s *PlanJobService) Get(jobID string) (*dto.JobResponse, error) {
	job, _, ok := s.jobs.Get(jobID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "planning job not found or expired")
	}
	return &job, nil
}

func (s *PlanJobService) handle(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(dto.PlanRequest)
	if !ok {
		s.finish(job.ID, nil, errors.New("unexpected job payload"))
		return jobs.Permanent(errors.New("unexpected job payload"))
	}
	s.jobs.Update(job.ID, func(j *dto.JobResponse) { j.Status = dto.JobStatusRunning })

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.plans.PlanJob(ctx, req)
	if err != nil {
		s.finish(job.ID, nil, err)
		return jobs.Permanent(err)
	}
	s.finish(job.ID, resp, nil)
	return nil
}

func (s *PlanJobService) finish(jobID string, resp *dto.PlanResponse, err error) {
	now := time.Now().UTC()
	s.jobs.Update(jobID, func(j *dto.JobResponse) {
		j.FinishedAt = &now
		if err != nil {
			j.Status = dto.JobStatusFailed
			j.Error = appErrors.FromError(err).Message
			return
		}
		j.Status = dto.JobStatusDone
		j.Result = resp
	})
	if err != nil {
		s.logger.Warn("planning job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	s.logger.Info("planning job finished", zap.String("job_id", jobID), zap.String("plan_id", resp.PlanID), zap.String("status", string(resp.Status)))
}
