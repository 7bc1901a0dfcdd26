package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/invigilation-planner/internal/dto"
	"github.com/noah-isme/invigilation-planner/internal/models"
	"github.com/noah-isme/invigilation-planner/internal/planner"
	appErrors "github.com/noah-isme/invigilation-planner/pkg/errors"
)

type stubPlanner struct {
	calls   int
	last    models.PlanningRequest
	status  models.PlanStatus
	timeout bool
	err     error
}

func (s *stubPlanner) Plan(_ context.Context, req models.PlanningRequest) (*models.PlanningResult, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	status := s.status
	if status == "" {
		status = models.PlanStatusOptimal
	}
	result := &models.PlanningResult{Status: status, TimedOut: s.timeout, Backend: "stub", Tasks: req.Tasks}
	if !result.HasAssignment() {
		return result, nil
	}
	result.Objective = 42
	result.Assignment = make([]int, len(req.Tasks))
	for i := range req.Tasks {
		result.Assignment[i] = i%req.StaffCount + 1
	}
	result.Statistics = make([]models.StaffStatistics, req.StaffCount)
	for i := range result.Statistics {
		result.Statistics[i].StaffID = i + 1
	}
	result.Ranges = &models.MetricRanges{}
	return result, nil
}

type stubRunRepo struct {
	created   []*models.PlanRun
	demoted   []string
	published []string
	deleted   []string
	runs      map[string]*models.PlanRun
	filter    models.PlanRunFilter
	createErr error
}

func (r *stubRunRepo) CreateVersioned(_ context.Context, exec sqlx.ExtContext, run *models.PlanRun) error {
	if exec == nil {
		return errors.New("expected transaction")
	}
	if r.createErr != nil {
		return r.createErr
	}
	run.ID = "run-1"
	run.Version = len(r.created) + 1
	r.created = append(r.created, run)
	return nil
}

func (r *stubRunRepo) List(_ context.Context, filter models.PlanRunFilter) ([]models.PlanRun, int, error) {
	r.filter = filter
	out := make([]models.PlanRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, *run)
	}
	return out, len(out), nil
}

func (r *stubRunRepo) FindByID(_ context.Context, id string) (*models.PlanRun, error) {
	run, ok := r.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *run
	return &clone, nil
}

func (r *stubRunRepo) Delete(_ context.Context, id string) error {
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *stubRunRepo) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id string, status models.PlanRunStatus) error {
	if status == models.PlanRunStatusPublished {
		r.published = append(r.published, id)
	}
	return nil
}

func (r *stubRunRepo) DemotePublished(_ context.Context, _ sqlx.ExtContext, examPeriod, _ string) error {
	r.demoted = append(r.demoted, examPeriod)
	return nil
}

type stubAssignmentRepo struct {
	saved   []models.PlanAssignment
	byStaff int
}

func (r *stubAssignmentRepo) UpsertBatch(_ context.Context, _ sqlx.ExtContext, rows []models.PlanAssignment) error {
	r.saved = append(r.saved, rows...)
	return nil
}

func (r *stubAssignmentRepo) ListByRun(_ context.Context, _ string) ([]models.PlanAssignment, error) {
	return r.saved, nil
}

func (r *stubAssignmentRepo) ListByStaff(_ context.Context, _ string, staffID int) ([]models.PlanAssignment, error) {
	r.byStaff = staffID
	var out []models.PlanAssignment
	for _, row := range r.saved {
		if row.StaffID == staffID {
			out = append(out, row)
		}
	}
	return out, nil
}

func samplePlanRequest() dto.PlanRequest {
	return dto.PlanRequest{
		PlanParams: dto.PlanParams{StaffCount: 2},
		Rows: []dto.TimetableRow{
			{Day: "Monday", Time: "09:00-10:00", Room: "301,302", Subject: "Math"},
			{Day: "Tuesday", Time: "13:00-14:30", Room: "303", Subject: "Physics"},
			{Day: "Wednesday", Time: "nonsense", Room: "304"},
		},
	}
}

func newTestPlanService(solver planSolver, store PlanPersistence, cache *CacheService) *PlanService {
	return NewPlanService(solver, store, cache, NewMetricsService(), nil, nil, PlanServiceConfig{Backend: "stub"})
}

func requireAppError(t *testing.T, err error, want *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, want.Code, appErr.Code)
	assert.Equal(t, want.Status, appErr.Status)
}

func TestPlanServicePlanProducesAssignments(t *testing.T) {
	solver := &stubPlanner{}
	svc := newTestPlanService(solver, PlanPersistence{}, nil)

	resp, err := svc.Plan(context.Background(), samplePlanRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, resp.PlanID)
	assert.Equal(t, models.PlanStatusOptimal, resp.Status)
	assert.Equal(t, 3, resp.Schedule.Tasks)
	assert.Len(t, resp.Schedule.Skipped, 1)
	require.Len(t, resp.Assignments, 3)
	assert.Equal(t, "301", resp.Assignments[0].Room)
	assert.Equal(t, "13:00-14:30", resp.Assignments[2].Time)
	assert.Equal(t, 90, resp.Assignments[2].Duration)
	assert.False(t, resp.Cached)

	assert.Equal(t, models.DefaultWeights(), solver.last.Weights)
	assert.Equal(t, models.DefaultPlanningOptions(), solver.last.Options)
	assert.Equal(t, planner.DefaultTimeBudget, solver.last.TimeBudget)

	again, err := svc.Get(resp.PlanID)
	require.NoError(t, err)
	assert.Equal(t, resp.PlanID, again.PlanID)
}

func TestPlanServiceAppliesOverridesAndExemptionText(t *testing.T) {
	solver := &stubPlanner{}
	svc := newTestPlanService(solver, PlanPersistence{}, nil)

	dailyCap, bound := 2, -1
	req := samplePlanRequest()
	req.DayExemptions = "2:Monday, garbage"
	req.Exemptions = []models.ExemptionRule{{Kind: models.ExemptionTimeRange, StaffID: 1, Start: 480, End: 540}}
	req.Weights = &models.Weights{Total: 100}
	req.BigRooms = []string{"302"}
	req.TimeBudgetSeconds = 5
	req.Options = &dto.PlanOptions{DailyCap: &dailyCap, FairnessHardBound: &bound}

	resp, err := svc.Plan(context.Background(), req)
	require.NoError(t, err)

	got := solver.last
	require.Len(t, got.Exemptions, 2)
	assert.Equal(t, models.ExemptionTimeRange, got.Exemptions[0].Kind)
	assert.Equal(t, models.ExemptionRule{Kind: models.ExemptionDay, StaffID: 2, DaySubstring: "Monday"}, got.Exemptions[1])
	assert.Equal(t, 100, got.Weights.Total)
	assert.Equal(t, []string{"302"}, got.BigRooms)
	assert.Equal(t, 2, got.Options.DailyCap)
	assert.Equal(t, -1, got.Options.FairnessHardBound)
	assert.Equal(t, 2, got.Options.MorningHardBound)
	assert.Equal(t, int64(5), int64(got.TimeBudget.Seconds()))
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[0], "skipped")
}

func TestPlanServiceValidation(t *testing.T) {
	svc := newTestPlanService(&stubPlanner{}, PlanPersistence{}, nil)

	_, err := svc.Plan(context.Background(), dto.PlanRequest{PlanParams: dto.PlanParams{StaffCount: 2}})
	requireAppError(t, err, appErrors.ErrValidation)

	req := samplePlanRequest()
	req.Rows = []dto.TimetableRow{{Day: "Someday", Time: "??", Room: "301"}}
	_, err = svc.Plan(context.Background(), req)
	requireAppError(t, err, appErrors.ErrValidation)

	req = samplePlanRequest()
	req.Options = &dto.PlanOptions{EveningThreshold: "late"}
	_, err = svc.Plan(context.Background(), req)
	requireAppError(t, err, appErrors.ErrValidation)
}

func TestPlanServiceMapsPlannerErrors(t *testing.T) {
	cases := []struct {
		err  error
		want *appErrors.Error
	}{
		{planner.ErrInvalidWeights, appErrors.ErrInvalidWeights},
		{planner.ErrInvalidRequest, appErrors.ErrValidation},
		{context.DeadlineExceeded, appErrors.ErrUnavailable},
		{errors.New("boom"), appErrors.ErrInternal},
	}
	for _, tc := range cases {
		svc := newTestPlanService(&stubPlanner{err: tc.err}, PlanPersistence{}, nil)
		_, err := svc.Plan(context.Background(), samplePlanRequest())
		requireAppError(t, err, tc.want)
	}
}

func TestPlanServiceCachesResults(t *testing.T) {
	solver := &stubPlanner{}
	cache := NewCacheService(newMemoryCache(), nil, 0, nil, true)
	svc := newTestPlanService(solver, PlanPersistence{}, cache)

	first, err := svc.Plan(context.Background(), samplePlanRequest())
	require.NoError(t, err)
	second, err := svc.Plan(context.Background(), samplePlanRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, solver.calls)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.NotEqual(t, first.PlanID, second.PlanID)
	assert.Equal(t, first.Assignments, second.Assignments)
}

func TestPlanServiceFlushCacheForcesResolve(t *testing.T) {
	solver := &stubPlanner{}
	cache := NewCacheService(newMemoryCache(), nil, 0, nil, true)
	svc := newTestPlanService(solver, PlanPersistence{}, cache)
	ctx := context.Background()

	_, err := svc.Plan(ctx, samplePlanRequest())
	require.NoError(t, err)
	require.NoError(t, svc.FlushCache(ctx))
	resp, err := svc.Plan(ctx, samplePlanRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, solver.calls)
	assert.False(t, resp.Cached)

	require.NoError(t, newTestPlanService(solver, PlanPersistence{}, nil).FlushCache(ctx))
}

func TestPlanServiceSkipsCacheForTimedOutInfeasible(t *testing.T) {
	solver := &stubPlanner{status: models.PlanStatusInfeasible, timeout: true}
	cache := NewCacheService(newMemoryCache(), nil, 0, nil, true)
	svc := newTestPlanService(solver, PlanPersistence{}, cache)

	for i := 0; i < 2; i++ {
		resp, err := svc.Plan(context.Background(), samplePlanRequest())
		require.NoError(t, err)
		assert.True(t, resp.TimedOut)
		assert.Empty(t, resp.Assignments)
	}
	assert.Equal(t, 2, solver.calls)
}

func TestPlanServicePlanCSV(t *testing.T) {
	solver := &stubPlanner{}
	svc := newTestPlanService(solver, PlanPersistence{}, nil)

	csvBody := "Day,Time,Room,Subject\nMonday,09:00-10:00,301,Math\n"
	resp, err := svc.PlanCSV(context.Background(), strings.NewReader(csvBody), dto.PlanParams{StaffCount: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Schedule.Tasks)

	_, err = svc.PlanCSV(context.Background(), strings.NewReader("foo,bar\n1,2\n"), dto.PlanParams{StaffCount: 1})
	requireAppError(t, err, appErrors.ErrValidation)
}

func TestPlanServiceGetUnknownPlan(t *testing.T) {
	svc := newTestPlanService(&stubPlanner{}, PlanPersistence{}, nil)
	_, err := svc.Get("missing")
	requireAppError(t, err, appErrors.ErrNotFound)
}

func newPersistentPlanService(t *testing.T, solver planSolver) (*PlanService, sqlmock.Sqlmock, *stubRunRepo, *stubAssignmentRepo) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runs := &stubRunRepo{runs: map[string]*models.PlanRun{}}
	assignments := &stubAssignmentRepo{}
	store := PlanPersistence{Runs: runs, Assignments: assignments, Tx: sqlx.NewDb(db, "sqlmock")}
	return newTestPlanService(solver, store, nil), mock, runs, assignments
}

func TestPlanServiceSavePublishesInTransaction(t *testing.T) {
	svc, mock, runs, assignments := newPersistentPlanService(t, &stubPlanner{})
	resp, err := svc.Plan(context.Background(), samplePlanRequest())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()

	run, err := svc.Save(context.Background(), resp.PlanID, dto.SavePlanRequest{ExamPeriod: " finals ", Publish: true}, "user-1")
	require.NoError(t, err)

	assert.Equal(t, "finals", run.ExamPeriod)
	assert.Equal(t, models.PlanRunStatusPublished, run.Status)
	assert.Equal(t, 3, run.TaskCount)
	require.NotNil(t, run.CreatedBy)
	assert.Equal(t, "user-1", *run.CreatedBy)
	assert.Contains(t, string(run.Meta), resp.PlanID)
	assert.Equal(t, []string{"finals"}, runs.demoted)
	assert.Equal(t, []string{"run-1"}, runs.published)
	require.Len(t, assignments.saved, 3)
	assert.Equal(t, "run-1", assignments.saved[0].PlanRunID)
	assert.Equal(t, "09:00-10:00", assignments.saved[0].TimeRange)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanServiceSaveRollsBackOnFailure(t *testing.T) {
	svc, mock, runs, _ := newPersistentPlanService(t, &stubPlanner{})
	resp, err := svc.Plan(context.Background(), samplePlanRequest())
	require.NoError(t, err)
	runs.createErr = errors.New("insert failed")

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = svc.Save(context.Background(), resp.PlanID, dto.SavePlanRequest{ExamPeriod: "finals"}, "")
	requireAppError(t, err, appErrors.ErrInternal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanServiceSaveRejectsInfeasibleAndDisabled(t *testing.T) {
	svc, _, _, _ := newPersistentPlanService(t, &stubPlanner{status: models.PlanStatusInfeasible})
	resp, err := svc.Plan(context.Background(), samplePlanRequest())
	require.NoError(t, err)

	_, err = svc.Save(context.Background(), resp.PlanID, dto.SavePlanRequest{ExamPeriod: "finals"}, "")
	requireAppError(t, err, appErrors.ErrInfeasible)
	assert.Equal(t, http.StatusUnprocessableEntity, appErrors.FromError(err).Status)

	memoryOnly := newTestPlanService(&stubPlanner{}, PlanPersistence{}, nil)
	_, err = memoryOnly.Save(context.Background(), resp.PlanID, dto.SavePlanRequest{ExamPeriod: "finals"}, "")
	requireAppError(t, err, appErrors.ErrUnavailable)
}

func TestPlanServiceRunLifecycle(t *testing.T) {
	svc, mock, runs, assignments := newPersistentPlanService(t, &stubPlanner{})
	runs.runs["draft"] = &models.PlanRun{ID: "draft", ExamPeriod: "finals", Status: models.PlanRunStatusDraft}
	runs.runs["live"] = &models.PlanRun{ID: "live", ExamPeriod: "finals", Status: models.PlanRunStatusPublished}
	assignments.saved = []models.PlanAssignment{{StaffID: 1}, {StaffID: 2}, {StaffID: 1}}

	list, page, err := svc.ListRuns(context.Background(), dto.PlanRunQuery{ExamPeriod: "finals"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, models.Pagination{Page: 1, PageSize: 20, TotalCount: 2}, *page)
	assert.Equal(t, "finals", runs.filter.ExamPeriod)

	rows, err := svc.RunAssignments(context.Background(), "draft", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, assignments.byStaff)

	_, err = svc.RunAssignments(context.Background(), "nope", 0)
	requireAppError(t, err, appErrors.ErrNotFound)

	requireAppError(t, svc.DeleteRun(context.Background(), "live"), appErrors.ErrConflict)
	require.NoError(t, svc.DeleteRun(context.Background(), "draft"))
	assert.Equal(t, []string{"draft"}, runs.deleted)

	mock.ExpectBegin()
	mock.ExpectCommit()
	runs.runs["second"] = &models.PlanRun{ID: "second", ExamPeriod: "finals", Status: models.PlanRunStatusDraft}
	run, err := svc.PublishRun(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, models.PlanRunStatusPublished, run.Status)
	assert.Equal(t, []string{"second"}, runs.published)
	assert.NoError(t, mock.ExpectationsWereMet())

	already, err := svc.PublishRun(context.Background(), "live")
	require.NoError(t, err)
	assert.Equal(t, "live", already.ID)
}
