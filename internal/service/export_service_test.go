package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/invigilation-planner/internal/dto"
	"github.com/noah-isme/invigilation-planner/internal/models"
	appErrors "github.com/noah-isme/invigilation-planner/pkg/errors"
)

type planSourceStub struct {
	result *models.PlanningResult
	run    *models.PlanRun
	rows   []models.PlanAssignment
}

func (p planSourceStub) Result(planID string) (*models.PlanningResult, error) {
	if p.result == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found or expired")
	}
	return p.result, nil
}

func (p planSourceStub) GetRun(_ context.Context, runID string) (*models.PlanRun, error) {
	if p.run == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "plan run not found")
	}
	return p.run, nil
}

func (p planSourceStub) RunAssignments(context.Context, string, int) ([]models.PlanAssignment, error) {
	return p.rows, nil
}

func exportFixture() *models.PlanningResult {
	tasks := []models.ExamTask{
		{ID: 0, DayLabel: "Monday", Week: 1, Start: 540, End: 600, Duration: 60, Room: "301", Subject: "Math", Session: models.SessionMorning},
		{ID: 1, DayLabel: "Tuesday", Week: 1, Start: 960, End: 1050, Duration: 90, Room: "302", Subject: "Physics", Session: models.SessionEvening},
	}
	return &models.PlanningResult{
		Status:     models.PlanStatusOptimal,
		Backend:    "cp",
		Tasks:      tasks,
		Assignment: []int{2, 1},
		Statistics: []models.StaffStatistics{{StaffID: 1, TotalMinutes: 90, TotalTasks: 1}, {StaffID: 2, TotalMinutes: 60, TotalTasks: 1}},
		Ranges:     &models.MetricRanges{TotalMinutes: 30},
	}
}

func newExportServiceForTest(src planSource) *ExportService {
	svc := NewExportService(src, nil, zap.NewNop(), nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 6, 3, 8, 30, 0, 0, time.UTC) }
	return svc
}

func TestExportServiceRosterCSV(t *testing.T) {
	svc := newExportServiceForTest(planSourceStub{result: exportFixture()})

	file, err := svc.ExportPlan("0123456789abcdef", dto.ExportQuery{})
	require.NoError(t, err)
	assert.Equal(t, "plan_01234567_roster_20240603_083000.csv", file.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)

	lines := strings.Split(strings.TrimSpace(string(file.Body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "task,day,week,time,room,subject,session,staff_id,duration_minutes", lines[0])
	assert.Equal(t, "0,Monday,1,09:00-10:00,301,Math,MORNING,2,60", lines[1])
}

func TestExportServiceStatisticsCSV(t *testing.T) {
	svc := newExportServiceForTest(planSourceStub{result: exportFixture()})

	file, err := svc.ExportPlan("p1", dto.ExportQuery{Format: dto.ExportFormatCSV, Kind: "statistics"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(file.Body), "staff_id,total_minutes,big_room_minutes"))
	assert.Contains(t, file.Filename, "_statistics_")
}

func TestExportServicePDF(t *testing.T) {
	svc := newExportServiceForTest(planSourceStub{result: exportFixture()})

	for _, kind := range []string{"roster", "statistics"} {
		file, err := svc.ExportPlan("p1", dto.ExportQuery{Format: dto.ExportFormatPDF, Kind: kind})
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", file.ContentType)
		assert.True(t, bytes.HasPrefix(file.Body, []byte("%PDF")))
	}
}

func TestExportServiceRejectsInfeasibleAndBadQuery(t *testing.T) {
	infeasible := &models.PlanningResult{Status: models.PlanStatusInfeasible}
	svc := newExportServiceForTest(planSourceStub{result: infeasible})

	_, err := svc.ExportPlan("p1", dto.ExportQuery{})
	requireAppError(t, err, appErrors.ErrInfeasible)

	_, err = svc.ExportPlan("p1", dto.ExportQuery{Format: "xlsx"})
	requireAppError(t, err, appErrors.ErrValidation)

	_, err = newExportServiceForTest(planSourceStub{}).ExportPlan("gone", dto.ExportQuery{})
	requireAppError(t, err, appErrors.ErrNotFound)
}

func TestExportServiceSavedRun(t *testing.T) {
	src := planSourceStub{
		run: &models.PlanRun{ID: "run-1", ExamPeriod: "2024 finals", Version: 3, StaffCount: 2, Status: models.PlanRunStatusPublished},
		rows: []models.PlanAssignment{
			{TaskIndex: 0, DayLabel: "Monday", StartMinute: 540, EndMinute: 600, TimeRange: "09:00-10:00", Room: "301", Session: models.SessionMorning, StaffID: 2},
			{TaskIndex: 1, DayLabel: "Monday", StartMinute: 960, EndMinute: 1020, TimeRange: "16:00-17:00", Room: "302", Session: models.SessionEvening, StaffID: 2},
		},
	}
	svc := newExportServiceForTest(src)

	file, err := svc.ExportRun(context.Background(), "run-1", dto.ExportQuery{Kind: "statistics"})
	require.NoError(t, err)
	assert.Equal(t, "2024_finals_v3_statistics_20240603_083000.csv", file.Filename)
	lines := strings.Split(strings.TrimSpace(string(file.Body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1,0,0,0,0,0,0,false", lines[1])
	assert.Equal(t, "2,120,0,2,1,1,0,false", lines[2])
}
