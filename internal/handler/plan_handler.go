package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/invigilation-planner/internal/dto"
	"github.com/noah-isme/invigilation-planner/internal/middleware"
	"github.com/noah-isme/invigilation-planner/internal/models"
	appErrors "github.com/noah-isme/invigilation-planner/pkg/errors"
	"github.com/noah-isme/invigilation-planner/pkg/response"
)

const defaultMaxUploadBytes = 2 << 20

type planService interface {
	Plan(ctx context.Context, req dto.PlanRequest) (*dto.PlanResponse, error)
	PlanCSV(ctx context.Context, file io.Reader, params dto.PlanParams) (*dto.PlanResponse, error)
	Get(planID string) (*dto.PlanResponse, error)
	Save(ctx context.Context, planID string, req dto.SavePlanRequest, userID string) (*models.PlanRun, error)
	ListRuns(ctx context.Context, query dto.PlanRunQuery) ([]models.PlanRun, *models.Pagination, error)
	GetRun(ctx context.Context, runID string) (*models.PlanRun, error)
	RunAssignments(ctx context.Context, runID string, staffID int) ([]models.PlanAssignment, error)
	PublishRun(ctx context.Context, runID string) (*models.PlanRun, error)
	DeleteRun(ctx context.Context, runID string) error
	FlushCache(ctx context.Context) error
}

type planJobService interface {
	Submit(req dto.PlanRequest) (*dto.JobResponse, error)
	Get(jobID string) (*dto.JobResponse, error)
}

type planExporter interface {
	ExportPlan(planID string, query dto.ExportQuery) (*dto.ExportFile, error)
	ExportRun(ctx context.Context, runID string, query dto.ExportQuery) (*dto.ExportFile, error)
}

// PlanHandler exposes planning, plan run and export endpoints.
type PlanHandler struct {
	plans          planService
	jobs           planJobService
	exports        planExporter
	maxUploadBytes int64
}

// NewPlanHandler constructs the handler. A non-positive maxUploadBytes falls back to 2 MiB.
func NewPlanHandler(plans planService, jobs planJobService, exports planExporter, maxUploadBytes int64) *PlanHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &PlanHandler{plans: plans, jobs: jobs, exports: exports, maxUploadBytes: maxUploadBytes}
}

// Create godoc
// @Summary Plan invigilation for a timetable
// @Description Normalises the timetable rows, solves the assignment and returns the plan. Proven infeasible inputs return 200 with status INFEASIBLE.
// @Tags Plans
// @Accept json
// @Produce json
// @Param payload body dto.PlanRequest true "Timetable and planning parameters"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /plans [post]
func (h *PlanHandler) Create(c *gin.Context) {
	var req dto.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid planning payload"))
		return
	}
	result, err := h.plans.Plan(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondPlan(c, result)
}

// Upload godoc
// @Summary Plan invigilation for an uploaded timetable file
// @Description Accepts a CSV timetable (comma or semicolon separated, English or Turkish headers). Parameters come from the JSON "params" field; simple form fields override it.
// @Tags Plans
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Timetable CSV"
// @Param params formData string false "dto.PlanParams as JSON"
// @Param staffCount formData int false "Number of invigilators"
// @Param dayExemptions formData string false "Day exemptions, e.g. 4:Tuesday (1st week)"
// @Param timeExemptions formData string false "Time exemptions, e.g. 3:16:00-21:00"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /plans/upload [post]
func (h *PlanHandler) Upload(c *gin.Context) {
	if c.Request.ContentLength > h.maxUploadBytes {
		response.Error(c, h.tooLarge())
		return
	}
	body := &limitedBody{ReadCloser: http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)}
	c.Request.Body = body
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		// the multipart reader can fail with a header error once the limit cuts a part short
		if body.exceeded || isBodyTooLarge(err) {
			response.Error(c, h.tooLarge())
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	params, err := uploadParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.plans.PlanCSV(c.Request.Context(), file, params)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondPlan(c, result)
}

func (h *PlanHandler) tooLarge() *appErrors.Error {
	return appErrors.New("PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge,
		fmt.Sprintf("timetable file exceeds %d bytes", h.maxUploadBytes))
}

// limitedBody remembers whether the size limit was hit.
type limitedBody struct {
	io.ReadCloser
	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && isBodyTooLarge(err) {
		b.exceeded = true
	}
	return n, err
}

func isBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}

func uploadParams(c *gin.Context) (dto.PlanParams, error) {
	var params dto.PlanParams
	if raw := strings.TrimSpace(c.PostForm("params")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return params, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "params must be a JSON object")
		}
	}
	if raw := strings.TrimSpace(c.PostForm("staffCount")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return params, appErrors.Clone(appErrors.ErrValidation, "staffCount must be an integer")
		}
		params.StaffCount = n
	}
	if v, ok := c.GetPostForm("dayExemptions"); ok {
		params.DayExemptions = v
	}
	if v, ok := c.GetPostForm("timeExemptions"); ok {
		params.TimeExemptions = v
	}
	return params, nil
}

func (h *PlanHandler) respondPlan(c *gin.Context, result *dto.PlanResponse) {
	middleware.SetCacheHit(c, result.Cached)
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Fetch a recent plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /plans/{id} [get]
func (h *PlanHandler) Get(c *gin.Context) {
	result, err := h.plans.Get(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// SubmitJob godoc
// @Summary Queue a planning request
// @Tags Plans
// @Accept json
// @Produce json
// @Param payload body dto.PlanRequest true "Timetable and planning parameters"
// @Success 202 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /plans/jobs [post]
func (h *PlanHandler) SubmitJob(c *gin.Context) {
	var req dto.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid planning payload"))
		return
	}
	job, err := h.jobs.Submit(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, "jobs/"+job.JobID, job)
}

// GetJob godoc
// @Summary Poll a planning job
// @Tags Plans
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /plans/jobs/{id} [get]
func (h *PlanHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Save godoc
// @Summary Save a plan as the next version of an exam period
// @Tags Plan Runs
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body dto.SavePlanRequest true "Save payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /plans/{id}/save [post]
func (h *PlanHandler) Save(c *gin.Context) {
	var req dto.SavePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid save payload"))
		return
	}
	var userID string
	if claims, ok := middleware.Claims(c); ok {
		userID = claims.UserID
	}
	run, err := h.plans.Save(c.Request.Context(), c.Param("id"), req, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, run)
}

// Export godoc
// @Summary Download a plan as CSV or PDF
// @Tags Plans
// @Produce octet-stream
// @Param id path string true "Plan ID"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Param kind query string false "roster or statistics" Enums(roster, statistics)
// @Success 200 {file} file
// @Failure 422 {object} response.Envelope
// @Router /plans/{id}/export [get]
func (h *PlanHandler) Export(c *gin.Context) {
	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	file, err := h.exports.ExportPlan(c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// ListRuns godoc
// @Summary List saved plan runs
// @Tags Plan Runs
// @Produce json
// @Param exam_period query string false "Exam period"
// @Param status query string false "DRAFT or PUBLISHED"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /plan-runs [get]
func (h *PlanHandler) ListRuns(c *gin.Context) {
	var query dto.PlanRunQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	runs, pagination, err := h.plans.ListRuns(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, pagination)
}

// GetRun godoc
// @Summary Get a saved plan run
// @Tags Plan Runs
// @Produce json
// @Param id path string true "Plan run ID"
// @Success 200 {object} response.Envelope
// @Router /plan-runs/{id} [get]
func (h *PlanHandler) GetRun(c *gin.Context) {
	run, err := h.plans.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// RunAssignments godoc
// @Summary List the assignments of a saved plan run
// @Tags Plan Runs
// @Produce json
// @Param id path string true "Plan run ID"
// @Param staff_id query int false "Only this invigilator"
// @Success 200 {object} response.Envelope
// @Router /plan-runs/{id}/assignments [get]
func (h *PlanHandler) RunAssignments(c *gin.Context) {
	staffID := 0
	if raw := c.Query("staff_id"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "staff_id must be a positive integer"))
			return
		}
		staffID = n
	}
	rows, err := h.plans.RunAssignments(c.Request.Context(), c.Param("id"), staffID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// PublishRun godoc
// @Summary Publish a saved plan run
// @Description Demotes any other published version of the same exam period.
// @Tags Plan Runs
// @Produce json
// @Param id path string true "Plan run ID"
// @Success 200 {object} response.Envelope
// @Router /plan-runs/{id}/publish [post]
func (h *PlanHandler) PublishRun(c *gin.Context) {
	run, err := h.plans.PublishRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// DeleteRun godoc
// @Summary Delete a draft plan run
// @Tags Plan Runs
// @Param id path string true "Plan run ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /plan-runs/{id} [delete]
func (h *PlanHandler) DeleteRun(c *gin.Context) {
	if err := h.plans.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// FlushCache godoc
// @Summary Drop all cached planning results
// @Tags Plans
// @Success 204
// @Failure 503 {object} response.Envelope
// @Router /plans/cache [delete]
func (h *PlanHandler) FlushCache(c *gin.Context) {
	if err := h.plans.FlushCache(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportRun godoc
// @Summary Download a saved plan run as CSV or PDF
// @Tags Plan Runs
// @Produce octet-stream
// @Param id path string true "Plan run ID"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Param kind query string false "roster or statistics" Enums(roster, statistics)
// @Success 200 {file} file
// @Router /plan-runs/{id}/export [get]
func (h *PlanHandler) ExportRun(c *gin.Context) {
	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	file, err := h.exports.ExportRun(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

