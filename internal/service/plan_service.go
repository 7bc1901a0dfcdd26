package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/invigilation-planner/internal/dto"
	"github.com/noah-isme/invigilation-planner/internal/models"
	"github.com/noah-isme/invigilation-planner/internal/planner"
	"github.com/noah-isme/invigilation-planner/internal/timetable"
	appErrors "github.com/noah-isme/invigilation-planner/pkg/errors"
)

type planSolver interface {
	Plan(ctx context.Context, req models.PlanningRequest) (*models.PlanningResult, error)
}

type planRunRepository interface {
	CreateVersioned(ctx context.Context, exec sqlx.ExtContext, run *models.PlanRun) error
	List(ctx context.Context, filter models.PlanRunFilter) ([]models.PlanRun, int, error)
	FindByID(ctx context.Context, id string) (*models.PlanRun, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.PlanRunStatus) error
	DemotePublished(ctx context.Context, exec sqlx.ExtContext, examPeriod, keepID string) error
}

type planAssignmentRepository interface {
	UpsertBatch(ctx context.Context, exec sqlx.ExtContext, assignments []models.PlanAssignment) error
	ListByRun(ctx context.Context, runID string) ([]models.PlanAssignment, error)
	ListByStaff(ctx context.Context, runID string, staffID int) ([]models.PlanAssignment, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// PlanPersistence bundles the plan store. Leave it zero to run without a database.
type PlanPersistence struct {
	Runs        planRunRepository
	Assignments planAssignmentRepository
	Tx          txProvider
}

func (p PlanPersistence) enabled() bool {
	return p.Runs != nil && p.Assignments != nil && p.Tx != nil
}

// PlanServiceConfig carries the defaults applied to every request.
type PlanServiceConfig struct {
	Backend    string
	TimeBudget time.Duration
	Options    models.PlanningOptions
	Weights    models.Weights
	BigRooms   []string
	Timetable  timetable.Options
	ResultTTL  time.Duration
	CacheTTL   time.Duration
}

type planRecord struct {
	ID       string
	Result   *models.PlanningResult
	Schedule dto.ScheduleSummary
	Cached   bool
}

// PlanService turns timetables into invigilation plans and manages saved plan runs.
type PlanService struct {
	planner   planSolver
	store     PlanPersistence
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       PlanServiceConfig
	results   *ttlStore[planRecord]
}

// NewPlanService wires the planning pipeline.
func NewPlanService(
	solver planSolver,
	store PlanPersistence,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg PlanServiceConfig,
) *PlanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 30 * time.Minute
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = planner.DefaultTimeBudget
	}
	if cfg.Weights.Sum() == 0 {
		cfg.Weights = models.DefaultWeights()
	}
	if cfg.Options.DailyCap == 0 {
		cfg.Options = models.DefaultPlanningOptions()
	}
	if cfg.Timetable.Labeling == "" {
		cfg.Timetable = timetable.DefaultOptions()
	}
	return &PlanService{
		planner:   solver,
		store:     store,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		results:   newTTLStore[planRecord](cfg.ResultTTL),
	}
}

// Plan solves a JSON timetable.
func (s *PlanService) Plan(ctx context.Context, req dto.PlanRequest) (*dto.PlanResponse, error) {
	return s.planRows(ctx, req, "sync")
}

// PlanJob is Plan for requests drained from the job queue.
func (s *PlanService) PlanJob(ctx context.Context, req dto.PlanRequest) (*dto.PlanResponse, error) {
	return s.planRows(ctx, req, "job")
}

func (s *PlanService) planRows(ctx context.Context, req dto.PlanRequest, source string) (*dto.PlanResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid planning payload")
	}
	rows := make([]timetable.RawRow, len(req.Rows))
	for i, row := range req.Rows {
		rows[i] = timetable.RawRow{Row: i + 1, Day: row.Day, Time: row.Time, Room: row.Room, Subject: row.Subject}
	}
	return s.solve(ctx, rows, req.PlanParams, source)
}

// PlanCSV solves an uploaded timetable file.
func (s *PlanService) PlanCSV(ctx context.Context, file io.Reader, params dto.PlanParams) (*dto.PlanResponse, error) {
	if err := s.validator.Struct(params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid planning parameters")
	}
	rows, err := timetable.LoadCSV(file)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable timetable file")
	}
	return s.solve(ctx, rows, params, "upload")
}

// Get returns a plan produced within the result TTL.
func (s *PlanService) Get(planID string) (*dto.PlanResponse, error) {
	record, expires, ok := s.results.Get(planID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found or expired")
	}
	return toPlanResponse(record, expires), nil
}

// Result exposes the raw planning result of a live plan.
func (s *PlanService) Result(planID string) (*models.PlanningResult, error) {
	record, _, ok := s.results.Get(planID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found or expired")
	}
	return record.Result, nil
}

func (s *PlanService) solve(ctx context.Context, rows []timetable.RawRow, params dto.PlanParams, source string) (*dto.PlanResponse, error) {
	normOpts, err := s.timetableOptions(params.Options)
	if err != nil {
		return nil, err
	}
	schedule, err := timetable.Normalize(rows, normOpts)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable options")
	}
	summary := dto.ScheduleSummary{
		Days:    schedule.Days,
		Rooms:   schedule.Rooms,
		Weeks:   schedule.Weeks,
		Tasks:   len(schedule.Tasks),
		Skipped: schedule.Skipped,
	}
	if len(schedule.Tasks) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("timetable has no usable rows (%d skipped)", len(schedule.Skipped)))
	}

	req, parseWarnings := s.buildRequest(schedule.Tasks, params)

	var (
		result *models.PlanningResult
		cached bool
	)
	key, keyErr := Fingerprint(s.cfg.Backend, req)
	if keyErr != nil {
		s.logger.Warn("skipping result cache", zap.Error(keyErr))
	} else {
		key = "plan:" + key
		var hit models.PlanningResult
		if s.cache.Get(ctx, key, &hit) {
			result, cached = &hit, true
		}
	}

	if result == nil {
		result, err = s.planner.Plan(ctx, req)
		if err != nil {
			return nil, s.plannerError(err)
		}
		if keyErr == nil && !(result.Status == models.PlanStatusInfeasible && result.TimedOut) {
			s.cache.Set(ctx, key, result, s.cfg.CacheTTL)
		}
	}

	if cached {
		source = "cache"
	}
	s.metrics.ObservePlan(result, len(req.Tasks), source)

	if len(parseWarnings) > 0 {
		out := *result
		out.Warnings = append(append([]string(nil), parseWarnings...), result.Warnings...)
		result = &out
	}

	record := planRecord{ID: uuid.NewString(), Result: result, Schedule: summary, Cached: cached}
	expires := s.results.Save(record.ID, record)

	s.logger.Info("plan produced",
		zap.String("plan_id", record.ID),
		zap.String("status", string(result.Status)),
		zap.Bool("cached", cached),
		zap.String("source", source),
		zap.Int("tasks", len(req.Tasks)),
		zap.Int("skipped_rows", len(schedule.Skipped)),
	)
	return toPlanResponse(record, expires), nil
}

func (s *PlanService) timetableOptions(overrides *dto.PlanOptions) (timetable.Options, error) {
	opts := s.cfg.Timetable
	if overrides == nil {
		return opts, nil
	}
	if overrides.SessionLabeling != "" {
		opts.Labeling = timetable.LabelingMode(overrides.SessionLabeling)
	}
	if overrides.EveningThreshold != "" {
		threshold, err := timetable.ParseClock(overrides.EveningThreshold)
		if err != nil {
			return opts, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid eveningThreshold")
		}
		opts.EveningThreshold = threshold
	}
	return opts, nil
}

func (s *PlanService) buildRequest(tasks []models.ExamTask, params dto.PlanParams) (models.PlanningRequest, []string) {
	rules, warnings := planner.ParseExemptions(params.DayExemptions, params.TimeExemptions)
	exemptions := append(append([]models.ExemptionRule(nil), params.Exemptions...), rules...)

	weights := s.cfg.Weights
	if params.Weights != nil {
		weights = *params.Weights
	}
	bigRooms := s.cfg.BigRooms
	if len(params.BigRooms) > 0 {
		bigRooms = params.BigRooms
	}
	budget := s.cfg.TimeBudget
	if params.TimeBudgetSeconds > 0 {
		budget = time.Duration(params.TimeBudgetSeconds) * time.Second
	}

	opts := s.cfg.Options
	if o := params.Options; o != nil {
		if o.DailyCap != nil {
			opts.DailyCap = *o.DailyCap
		}
		if o.EnforceRestPeriod != nil {
			opts.EnforceRestPeriod = *o.EnforceRestPeriod
		}
		if o.EnableClusteringBonus != nil {
			opts.EnableClusteringBonus = *o.EnableClusteringBonus
		}
		if o.ClusteringBonus != nil {
			opts.ClusteringBonus = *o.ClusteringBonus
		}
		if o.FairnessHardBound != nil {
			opts.FairnessHardBound = *o.FairnessHardBound
		}
		if o.MorningHardBound != nil {
			opts.MorningHardBound = *o.MorningHardBound
		}
		if o.RestrictDayExemptions != nil {
			opts.RestrictDayExemptions = *o.RestrictDayExemptions
		}
	}

	return models.PlanningRequest{
		Tasks:      tasks,
		StaffCount: params.StaffCount,
		Exemptions: exemptions,
		Weights:    weights,
		BigRooms:   bigRooms,
		TimeBudget: budget,
		Options:    opts,
	}, warnings
}

func (s *PlanService) plannerError(err error) error {
	switch {
	case errors.Is(err, planner.ErrInvalidWeights):
		return appErrors.Wrap(err, appErrors.ErrInvalidWeights.Code, appErrors.ErrInvalidWeights.Status, appErrors.ErrInvalidWeights.Message)
	case errors.Is(err, planner.ErrNoTasks), errors.Is(err, planner.ErrInvalidRequest):
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid planning request")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "planning was cancelled")
	}
	s.logger.Error("planning failed", zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "planning failed")
}

func toPlanResponse(record planRecord, expires time.Time) *dto.PlanResponse {
	result := record.Result
	resp := &dto.PlanResponse{
		PlanID:      record.ID,
		Status:      result.Status,
		TimedOut:    result.TimedOut,
		Objective:   result.Objective,
		Backend:     result.Backend,
		SolveTimeMs: result.SolveTime.Milliseconds(),
		Cached:      record.Cached,
		Schedule:    record.Schedule,
		Statistics:  result.Statistics,
		Ranges:      result.Ranges,
		Warnings:    result.Warnings,
		ExpiresAt:   expires,
	}
	if result.HasAssignment() {
		resp.Assignments = assignmentViews(result)
	}
	return resp
}

func assignmentViews(result *models.PlanningResult) []dto.AssignmentView {
	views := make([]dto.AssignmentView, len(result.Tasks))
	for i, task := range result.Tasks {
		views[i] = dto.AssignmentView{
			TaskID:   task.ID,
			Day:      task.DayLabel,
			Week:     task.Week,
			Time:     task.TimeRange(),
			Room:     task.Room,
			Subject:  task.Subject,
			Session:  task.Session,
			StaffID:  result.Assignment[i],
			Duration: task.Duration,
		}
	}
	return views
}

// FlushCache drops every cached planning result.
func (s *PlanService) FlushCache(ctx context.Context) error {
	if err := s.cache.Invalidate(ctx, "plan:*"); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to flush plan cache")
	}
	return nil
}

// Save persists a live plan as the next version of an exam period.
func (s *PlanService) Save(ctx context.Context, planID string, req dto.SavePlanRequest, userID string) (*models.PlanRun, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid save plan payload")
	}
	if !s.store.enabled() {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "plan persistence is disabled")
	}
	record, _, ok := s.results.Get(planID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found or expired")
	}
	result := record.Result
	if !result.HasAssignment() {
		return nil, appErrors.Clone(appErrors.ErrInfeasible, "only plans with an assignment can be saved")
	}

	meta, marshalErr := json.Marshal(map[string]any{
		"planId":     planID,
		"backend":    result.Backend,
		"timedOut":   result.TimedOut,
		"solveTime":  result.SolveTime.String(),
		"ranges":     result.Ranges,
		"statistics": result.Statistics,
		"schedule":   record.Schedule,
		"warnings":   result.Warnings,
	})
	if marshalErr != nil {
		return nil, appErrors.Wrap(marshalErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode plan metadata")
	}

	defer s.observeDB("plan_run_save", time.Now())
	tx, err := s.store.Tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	run := &models.PlanRun{
		ExamPeriod:  strings.TrimSpace(req.ExamPeriod),
		Status:      models.PlanRunStatusDraft,
		SolveStatus: result.Status,
		Objective:   result.Objective,
		StaffCount:  len(result.Statistics),
		TaskCount:   len(result.Tasks),
		Meta:        types.JSONText(meta),
	}
	if userID != "" {
		run.CreatedBy = &userID
	}
	if err = s.store.Runs.CreateVersioned(ctx, tx, run); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan run")
		return nil, err
	}

	rows := make([]models.PlanAssignment, len(result.Tasks))
	for i, task := range result.Tasks {
		rows[i] = models.PlanAssignment{
			PlanRunID:   run.ID,
			TaskIndex:   task.ID,
			DayLabel:    task.DayLabel,
			Week:        task.Week,
			StartMinute: task.Start,
			EndMinute:   task.End,
			TimeRange:   task.TimeRange(),
			Room:        task.Room,
			Subject:     task.Subject,
			Session:     task.Session,
			StaffID:     result.Assignment[i],
		}
	}
	if err = s.store.Assignments.UpsertBatch(ctx, tx, rows); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist plan assignments")
		return nil, err
	}

	if req.Publish {
		if err = s.publish(ctx, tx, run); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit plan transaction")
		return nil, err
	}

	s.logger.Info("plan saved",
		zap.String("plan_id", planID),
		zap.String("run_id", run.ID),
		zap.String("exam_period", run.ExamPeriod),
		zap.Int("version", run.Version),
		zap.String("status", string(run.Status)),
	)
	return run, nil
}

func (s *PlanService) publish(ctx context.Context, tx *sqlx.Tx, run *models.PlanRun) error {
	if err := s.store.Runs.DemotePublished(ctx, tx, run.ExamPeriod, run.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to demote published plans")
	}
	if err := s.store.Runs.UpdateStatus(ctx, tx, run.ID, models.PlanRunStatusPublished); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish plan run")
	}
	run.Status = models.PlanRunStatusPublished
	return nil
}

// ListRuns returns saved runs with pagination metadata.
func (s *PlanService) ListRuns(ctx context.Context, query dto.PlanRunQuery) ([]models.PlanRun, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan run query")
	}
	if !s.store.enabled() {
		return nil, nil, appErrors.Clone(appErrors.ErrUnavailable, "plan persistence is disabled")
	}
	filter := models.PlanRunFilter{
		ExamPeriod: query.ExamPeriod,
		Status:     models.PlanRunStatus(query.Status),
		Page:       max(query.Page, 1),
		PageSize:   query.PageSize,
	}
	if filter.PageSize == 0 {
		filter.PageSize = 20
	}
	defer s.observeDB("plan_run_list", time.Now())
	runs, total, err := s.store.Runs.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plan runs")
	}
	return runs, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// GetRun loads one saved run.
func (s *PlanService) GetRun(ctx context.Context, runID string) (*models.PlanRun, error) {
	if !s.store.enabled() {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "plan persistence is disabled")
	}
	run, err := s.store.Runs.FindByID(ctx, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan run not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan run")
	}
	return run, nil
}

// RunAssignments lists a saved run's assignments; staffID > 0 narrows to one invigilator.
func (s *PlanService) RunAssignments(ctx context.Context, runID string, staffID int) ([]models.PlanAssignment, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	var (
		rows []models.PlanAssignment
		err  error
	)
	if staffID > 0 {
		rows, err = s.store.Assignments.ListByStaff(ctx, runID, staffID)
	} else {
		rows, err = s.store.Assignments.ListByRun(ctx, runID)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan assignments")
	}
	return rows, nil
}

// PublishRun makes runID the published version of its exam period.
func (s *PlanService) PublishRun(ctx context.Context, runID string) (*models.PlanRun, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == models.PlanRunStatusPublished {
		return run, nil
	}
	defer s.observeDB("plan_run_publish", time.Now())
	tx, err := s.store.Tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	if err = s.publish(ctx, tx, run); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit plan transaction")
	}
	return run, nil
}

// DeleteRun removes a draft run.
func (s *PlanService) DeleteRun(ctx context.Context, runID string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != models.PlanRunStatusDraft {
		return appErrors.Clone(appErrors.ErrConflict, "only draft plan runs can be deleted")
	}
	if err := s.store.Runs.Delete(ctx, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "plan run not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete plan run")
	}
	return nil
}

func (s *PlanService) observeDB(label string, start time.Time) {
	s.metrics.ObserveDBQuery(label, time.Since(start))
}
