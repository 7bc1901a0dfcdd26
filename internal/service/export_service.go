package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/invigilation-planner/internal/dto"
	"github.com/noah-isme/invigilation-planner/internal/models"
	appErrors "github.com/noah-isme/invigilation-planner/pkg/errors"
	"github.com/noah-isme/invigilation-planner/pkg/export"
)

type planSource interface {
	Result(planID string) (*models.PlanningResult, error)
	GetRun(ctx context.Context, runID string) (*models.PlanRun, error)
	RunAssignments(ctx context.Context, runID string, staffID int) ([]models.PlanAssignment, error)
}

type csvRenderer interface {
	Render(records interface{}) ([]byte, error)
}

type pdfRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

// ExportService renders plans and saved runs as CSV or PDF files.
type ExportService struct {
	plans     planSource
	csv       csvRenderer
	pdf       pdfRenderer
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(plans planSource, validate *validator.Validate, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{plans: plans, csv: csv, pdf: pdf, validator: validate, logger: logger, now: time.Now}
}

// ExportPlan renders a live plan. Infeasible plans have nothing to export.
func (s *ExportService) ExportPlan(planID string, query dto.ExportQuery) (*dto.ExportFile, error) {
	query, err := s.normalize(query)
	if err != nil {
		return nil, err
	}
	result, err := s.plans.Result(planID)
	if err != nil {
		return nil, err
	}
	if !result.HasAssignment() {
		return nil, appErrors.Clone(appErrors.ErrInfeasible, "plan has no assignment to export")
	}
	views := assignmentViews(result)
	subtitle := fmt.Sprintf("%s, %s, objective %d, %d tasks", result.Backend, result.Status, result.Objective, len(result.Tasks))
	return s.render("plan_"+shortID(planID), query, views, result.Statistics, result.Ranges, subtitle)
}

// ExportRun renders a saved plan run from the database.
func (s *ExportService) ExportRun(ctx context.Context, runID string, query dto.ExportQuery) (*dto.ExportFile, error) {
	query, err := s.normalize(query)
	if err != nil {
		return nil, err
	}
	run, err := s.plans.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	rows, err := s.plans.RunAssignments(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	views := make([]dto.AssignmentView, len(rows))
	for i, row := range rows {
		views[i] = dto.AssignmentView{
			TaskID:   row.TaskIndex,
			Day:      row.DayLabel,
			Week:     row.Week,
			Time:     row.TimeRange,
			Room:     row.Room,
			Subject:  row.Subject,
			Session:  row.Session,
			StaffID:  row.StaffID,
			Duration: row.EndMinute - row.StartMinute,
		}
	}
	stats := statisticsFromViews(views, run.StaffCount)
	subtitle := fmt.Sprintf("%s version %d (%s), objective %d", run.ExamPeriod, run.Version, run.Status, run.Objective)
	base := fmt.Sprintf("%s_v%d", sanitizeFilename(run.ExamPeriod), run.Version)
	return s.render(base, query, views, stats, nil, subtitle)
}

func (s *ExportService) normalize(query dto.ExportQuery) (dto.ExportQuery, error) {
	if err := s.validator.Struct(query); err != nil {
		return query, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export query")
	}
	if query.Format == "" {
		query.Format = dto.ExportFormatCSV
	}
	if query.Kind == "" {
		query.Kind = "roster"
	}
	return query, nil
}

func (s *ExportService) render(base string, query dto.ExportQuery, views []dto.AssignmentView, stats []models.StaffStatistics, ranges *models.MetricRanges, subtitle string) (*dto.ExportFile, error) {
	var (
		body []byte
		err  error
	)
	switch {
	case query.Format == dto.ExportFormatCSV && query.Kind == "statistics":
		body, err = s.csv.Render(stats)
	case query.Format == dto.ExportFormatCSV:
		body, err = s.csv.Render(views)
	case query.Kind == "statistics":
		body, err = s.pdf.Render(statisticsDocument(stats, ranges, subtitle))
	default:
		body, err = s.pdf.Render(rosterDocument(views, subtitle))
	}
	if err != nil {
		s.logger.Error("export render failed", zap.String("export", base), zap.String("format", string(query.Format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	contentType := "text/csv; charset=utf-8"
	if query.Format == dto.ExportFormatPDF {
		contentType = "application/pdf"
	}
	filename := fmt.Sprintf("%s_%s_%s.%s", base, query.Kind, s.now().UTC().Format("20060102_150405"), query.Format)
	return &dto.ExportFile{Filename: filename, ContentType: contentType, Body: body}, nil
}

func rosterDocument(views []dto.AssignmentView, subtitle string) export.Document {
	doc := export.Document{Title: "Invigilation Roster", Subtitle: subtitle}
	index := make(map[string]int)
	for _, v := range views {
		i, ok := index[v.Day]
		if !ok {
			i = len(doc.Tables)
			index[v.Day] = i
			doc.Tables = append(doc.Tables, export.Table{
				Heading: v.Day,
				Headers: []string{"Time", "Room", "Subject", "Session", "Invigilator"},
				Widths:  []float64{40, 40, 117, 40, 40},
			})
		}
		doc.Tables[i].Rows = append(doc.Tables[i].Rows, []string{
			v.Time, v.Room, v.Subject, string(v.Session), "Staff " + strconv.Itoa(v.StaffID),
		})
	}
	return doc
}

func statisticsDocument(stats []models.StaffStatistics, ranges *models.MetricRanges, subtitle string) export.Document {
	table := export.Table{
		Heading: "Per-staff workload",
		Headers: []string{"Staff", "Minutes", "Big-room min", "Tasks", "Morning", "Evening", "Critical", "Restricted"},
	}
	for _, st := range stats {
		restricted := ""
		if st.IsRestricted {
			restricted = "yes"
		}
		table.Rows = append(table.Rows, []string{
			strconv.Itoa(st.StaffID),
			strconv.Itoa(st.TotalMinutes),
			strconv.Itoa(st.BigRoomMinutes),
			strconv.Itoa(st.TotalTasks),
			strconv.Itoa(st.MorningCount),
			strconv.Itoa(st.EveningCount),
			strconv.Itoa(st.CriticalSum),
			restricted,
		})
	}
	doc := export.Document{Title: "Invigilation Workload", Subtitle: subtitle, Tables: []export.Table{table}}
	if ranges != nil {
		doc.Tables = append(doc.Tables, export.Table{
			Heading: "Spread (max - min)",
			Headers: []string{"Minutes", "Big-room min", "Morning", "Evening", "Critical"},
			Rows: [][]string{{
				strconv.Itoa(ranges.TotalMinutes),
				strconv.Itoa(ranges.BigRoomMinutes),
				strconv.Itoa(ranges.Morning),
				strconv.Itoa(ranges.Evening),
				strconv.Itoa(ranges.Critical),
			}},
		})
	}
	return doc
}

// statisticsFromViews recounts workload for a saved run. Big-room minutes and restriction
// flags are not stored per task and stay zero.
func statisticsFromViews(views []dto.AssignmentView, staffCount int) []models.StaffStatistics {
	for _, v := range views {
		staffCount = max(staffCount, v.StaffID)
	}
	stats := make([]models.StaffStatistics, staffCount)
	for i := range stats {
		stats[i].StaffID = i + 1
	}
	for _, v := range views {
		if v.StaffID < 1 {
			continue
		}
		st := &stats[v.StaffID-1]
		st.TotalMinutes += v.Duration
		st.TotalTasks++
		switch v.Session {
		case models.SessionMorning:
			st.MorningCount++
		case models.SessionEvening:
			st.EveningCount++
		}
	}
	return stats
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
