package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/invigilation-planner/internal/dto"
	"github.com/noah-isme/invigilation-planner/internal/middleware"
	"github.com/noah-isme/invigilation-planner/internal/models"
	appErrors "github.com/noah-isme/invigilation-planner/pkg/errors"
)

type planServiceMock struct {
	planReq   dto.PlanRequest
	csvBody   string
	csvParams dto.PlanParams
	saveUser  string
	saveReq   dto.SavePlanRequest
	runQuery  dto.PlanRunQuery
	staffID   int
	deleted   string
	planErr   error
	cached    bool
	deleteErr error
	flushed   bool
}

func (m *planServiceMock) Plan(_ context.Context, req dto.PlanRequest) (*dto.PlanResponse, error) {
	m.planReq = req
	if m.planErr != nil {
		return nil, m.planErr
	}
	return &dto.PlanResponse{PlanID: "plan-1", Status: models.PlanStatusOptimal, Cached: m.cached}, nil
}

func (m *planServiceMock) PlanCSV(_ context.Context, file io.Reader, params dto.PlanParams) (*dto.PlanResponse, error) {
	body, _ := io.ReadAll(file)
	m.csvBody = string(body)
	m.csvParams = params
	return &dto.PlanResponse{PlanID: "plan-2", Status: models.PlanStatusFeasible}, nil
}

func (m *planServiceMock) Get(planID string) (*dto.PlanResponse, error) {
	if planID != "plan-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found or expired")
	}
	return &dto.PlanResponse{PlanID: planID}, nil
}

func (m *planServiceMock) Save(_ context.Context, planID string, req dto.SavePlanRequest, userID string) (*models.PlanRun, error) {
	m.saveReq = req
	m.saveUser = userID
	return &models.PlanRun{ID: "run-1", ExamPeriod: req.ExamPeriod, Version: 1, Status: models.PlanRunStatusDraft}, nil
}

func (m *planServiceMock) ListRuns(_ context.Context, query dto.PlanRunQuery) ([]models.PlanRun, *models.Pagination, error) {
	m.runQuery = query
	return []models.PlanRun{{ID: "run-1"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (m *planServiceMock) GetRun(_ context.Context, runID string) (*models.PlanRun, error) {
	return &models.PlanRun{ID: runID}, nil
}

func (m *planServiceMock) RunAssignments(_ context.Context, _ string, staffID int) ([]models.PlanAssignment, error) {
	m.staffID = staffID
	return []models.PlanAssignment{{StaffID: staffID}}, nil
}

func (m *planServiceMock) PublishRun(_ context.Context, runID string) (*models.PlanRun, error) {
	return &models.PlanRun{ID: runID, Status: models.PlanRunStatusPublished}, nil
}

func (m *planServiceMock) DeleteRun(_ context.Context, runID string) error {
	m.deleted = runID
	return m.deleteErr
}

func (m *planServiceMock) FlushCache(context.Context) error {
	m.flushed = true
	return nil
}

type jobServiceMock struct {
	err error
}

func (m *jobServiceMock) Submit(dto.PlanRequest) (*dto.JobResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &dto.JobResponse{JobID: "job-1", Status: dto.JobStatusQueued}, nil
}

func (m *jobServiceMock) Get(jobID string) (*dto.JobResponse, error) {
	return &dto.JobResponse{JobID: jobID, Status: dto.JobStatusDone}, nil
}

type exporterMock struct {
	query dto.ExportQuery
}

func (m *exporterMock) ExportPlan(_ string, query dto.ExportQuery) (*dto.ExportFile, error) {
	m.query = query
	return &dto.ExportFile{Filename: "plan_roster.csv", ContentType: "text/csv; charset=utf-8", Body: []byte("task,day\n")}, nil
}

func (m *exporterMock) ExportRun(_ context.Context, _ string, query dto.ExportQuery) (*dto.ExportFile, error) {
	m.query = query
	return nil, appErrors.Clone(appErrors.ErrUnavailable, "plan persistence is disabled")
}

func newPlanRouter(h *PlanHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.WithResponseMeta())
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-7", Role: models.RolePlanner})
		c.Next()
	})
	router.POST("/plans", h.Create)
	router.POST("/plans/upload", h.Upload)
	router.POST("/plans/jobs", h.SubmitJob)
	router.GET("/plans/jobs/:id", h.GetJob)
	router.GET("/plans/:id", h.Get)
	router.DELETE("/plans/cache", h.FlushCache)
	router.POST("/plans/:id/save", h.Save)
	router.GET("/plans/:id/export", h.Export)
	router.GET("/plan-runs", h.ListRuns)
	router.GET("/plan-runs/:id/assignments", h.RunAssignments)
	router.POST("/plan-runs/:id/publish", h.PublishRun)
	router.DELETE("/plan-runs/:id", h.DeleteRun)
	router.GET("/plan-runs/:id/export", h.ExportRun)
	return router
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPlanHandlerCreate(t *testing.T) {
	svc := &planServiceMock{cached: true}
	router := newPlanRouter(NewPlanHandler(svc, &jobServiceMock{}, &exporterMock{}, 0))

	rec := doJSON(router, http.MethodPost, "/plans", `{"staffCount":3,"rows":[{"day":"Monday","time":"09:00-10:00","room":"301"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get(middleware.PlanCacheHeader))
	assert.Equal(t, 3, svc.planReq.StaffCount)
	require.Len(t, svc.planReq.Rows, 1)

	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "plan-1", data["planId"])
	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, true, meta["cache_hit"])
}

func TestPlanHandlerCreateErrors(t *testing.T) {
	svc := &planServiceMock{planErr: appErrors.Clone(appErrors.ErrInvalidWeights, "metric weights must sum to 100")}
	router := newPlanRouter(NewPlanHandler(svc, &jobServiceMock{}, &exporterMock{}, 0))

	assert.Equal(t, http.StatusBadRequest, doJSON(router, http.MethodPost, "/plans", `{"staffCount":`).Code)

	rec := doJSON(router, http.MethodPost, "/plans", `{"staffCount":3,"rows":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := decodeEnvelope(t, rec)["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_WEIGHTS", errBody["code"])
}

func multipartBody(t *testing.T, fields map[string]string, file string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if file != "" {
		part, err := writer.CreateFormFile("file", "timetable.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(file))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func TestPlanHandlerUpload(t *testing.T) {
	svc := &planServiceMock{}
	router := newPlanRouter(NewPlanHandler(svc, &jobServiceMock{}, &exporterMock{}, 0))

	body, contentType := multipartBody(t, map[string]string{
		"params":        `{"staffCount":2,"bigRooms":["301"]}`,
		"staffCount":    "5",
		"dayExemptions": "1:Monday",
	}, "Day,Time,Room\nMonday,09:00-10:00,301\n")
	req := httptest.NewRequest(http.MethodPost, "/plans/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get(middleware.PlanCacheHeader))
	assert.Equal(t, 5, svc.csvParams.StaffCount)
	assert.Equal(t, []string{"301"}, svc.csvParams.BigRooms)
	assert.Equal(t, "1:Monday", svc.csvParams.DayExemptions)
	assert.Contains(t, svc.csvBody, "Monday,09:00-10:00,301")
}

func TestPlanHandlerUploadRejects(t *testing.T) {
	router := newPlanRouter(NewPlanHandler(&planServiceMock{}, &jobServiceMock{}, &exporterMock{}, 256))

	body, contentType := multipartBody(t, map[string]string{"staffCount": "2"}, "")
	req := httptest.NewRequest(http.MethodPost, "/plans/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType = multipartBody(t, map[string]string{"staffCount": "2"}, strings.Repeat("Monday,09:00-10:00,301\n", 50))
	req = httptest.NewRequest(http.MethodPost, "/plans/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	for _, limit := range []int64{256, 4096} {
		limited := newPlanRouter(NewPlanHandler(&planServiceMock{}, &jobServiceMock{}, &exporterMock{}, limit))
		body, contentType = multipartBody(t, map[string]string{"staffCount": "2"}, strings.Repeat("Monday,09:00-10:00,301\n", 400))
		req = httptest.NewRequest(http.MethodPost, "/plans/upload", io.NopCloser(body))
		req.ContentLength = -1
		req.Header.Set("Content-Type", contentType)
		rec = httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, "limit %d", limit)
		assert.Contains(t, rec.Body.String(), "PAYLOAD_TOO_LARGE")
	}

	body, contentType = multipartBody(t, map[string]string{"staffCount": "many"}, "Day,Time,Room\n")
	req = httptest.NewRequest(http.MethodPost, "/plans/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	newPlanRouter(NewPlanHandler(&planServiceMock{}, &jobServiceMock{}, &exporterMock{}, 0)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanHandlerJobs(t *testing.T) {
	router := newPlanRouter(NewPlanHandler(&planServiceMock{}, &jobServiceMock{}, &exporterMock{}, 0))

	rec := doJSON(router, http.MethodPost, "/plans/jobs", `{"staffCount":1,"rows":[{"day":"Monday","time":"09:00-10:00","room":"301"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "jobs/job-1", rec.Header().Get("Location"))

	rec = doJSON(router, http.MethodGet, "/plans/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "DONE", data["status"])

	full := newPlanRouter(NewPlanHandler(&planServiceMock{}, &jobServiceMock{err: appErrors.Clone(appErrors.ErrUnavailable, "planning queue is full, retry later")}, &exporterMock{}, 0))
	rec = doJSON(full, http.MethodPost, "/plans/jobs", `{"staffCount":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPlanHandlerGetAndSave(t *testing.T) {
	svc := &planServiceMock{}
	router := newPlanRouter(NewPlanHandler(svc, &jobServiceMock{}, &exporterMock{}, 0))

	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodGet, "/plans/plan-1", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(router, http.MethodGet, "/plans/other", "").Code)

	rec := doJSON(router, http.MethodPost, "/plans/plan-1/save", `{"examPeriod":"finals","publish":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "u-7", svc.saveUser)
	assert.True(t, svc.saveReq.Publish)
}

func TestPlanHandlerExport(t *testing.T) {
	exporter := &exporterMock{}
	router := newPlanRouter(NewPlanHandler(&planServiceMock{}, &jobServiceMock{}, exporter, 0))

	rec := doJSON(router, http.MethodGet, "/plans/plan-1/export?format=csv&kind=roster", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="plan_roster.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "task,day\n", rec.Body.String())
	assert.Equal(t, dto.ExportFormatCSV, exporter.query.Format)

	rec = doJSON(router, http.MethodGet, "/plan-runs/run-1/export?format=pdf", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPlanHandlerRuns(t *testing.T) {
	svc := &planServiceMock{}
	router := newPlanRouter(NewPlanHandler(svc, &jobServiceMock{}, &exporterMock{}, 0))

	rec := doJSON(router, http.MethodGet, "/plan-runs?exam_period=finals&status=DRAFT&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.PlanRunQuery{ExamPeriod: "finals", Status: "DRAFT", Page: 2}, svc.runQuery)
	assert.NotNil(t, decodeEnvelope(t, rec)["pagination"])

	rec = doJSON(router, http.MethodGet, "/plan-runs/run-1/assignments?staff_id=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, svc.staffID)
	assert.Equal(t, http.StatusBadRequest, doJSON(router, http.MethodGet, "/plan-runs/run-1/assignments?staff_id=0", "").Code)

	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodPost, "/plan-runs/run-1/publish", "").Code)

	assert.Equal(t, http.StatusNoContent, doJSON(router, http.MethodDelete, "/plan-runs/run-1", "").Code)
	assert.Equal(t, "run-1", svc.deleted)

	svc.deleteErr = appErrors.Clone(appErrors.ErrConflict, "only draft plan runs can be deleted")
	assert.Equal(t, http.StatusConflict, doJSON(router, http.MethodDelete, "/plan-runs/run-2", "").Code)

	assert.Equal(t, http.StatusNoContent, doJSON(router, http.MethodDelete, "/plans/cache", "").Code)
	assert.True(t, svc.flushed)
}

type metricsStub struct{}

func (metricsStub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("planner_plans_total 1\n"))
	})
}

func (metricsStub) Snapshot() models.SystemMetrics {
	return models.SystemMetrics{PlansTotal: 7}
}

func TestMetricsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(metricsStub{}, map[string]HealthCheck{
		"database": func() error { return nil },
	})
	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/metrics", h.Prometheus)
	router.GET("/metrics/summary", h.Summary)

	rec := doJSON(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","dependencies":{"database":"ok"}}`, rec.Body.String())

	assert.Contains(t, doJSON(router, http.MethodGet, "/metrics", "").Body.String(), "planner_plans_total")

	data := decodeEnvelope(t, doJSON(router, http.MethodGet, "/metrics/summary", ""))["data"].(map[string]interface{})
	assert.EqualValues(t, 7, data["plansTotal"])

	failing := NewMetricsHandler(nil, map[string]HealthCheck{"redis": func() error { return errors.New("connection refused") }})
	router = gin.New()
	router.GET("/health", failing.Health)
	rec = doJSON(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}
