package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kollect-api/internal/dto"
	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/pkg/export"
	appErrors "github.com/noah-isme/kollect-api/pkg/errors"
)

var workExportHeaders = []string{"Title", "Status", "Progress", "Budget", "Deadline", "Deliverables"}

type workLister interface {
	List(ctx context.Context, userID string, role models.UserRole, query dto.WorkQuery) ([]models.Work, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportResult is a rendered export ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders the caller's works as CSV or PDF tables.
type ExportService struct {
	works  workLister
	csv    datasetRenderer
	pdf    datasetRenderer
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to
// the package exporters.
func NewExportService(works workLister, csv, pdf datasetRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{works: works, csv: csv, pdf: pdf, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ExportWorks renders every work visible to the caller.
func (s *ExportService) ExportWorks(ctx context.Context, userID string, role models.UserRole, format export.Format, status string) (*ExportResult, error) {
	if format == "" {
		format = export.FormatCSV
	}
	format = export.Format(strings.ToLower(string(format)))
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	works, err := s.works.List(ctx, userID, role, dto.WorkQuery{Status: status})
	if err != nil {
		return nil, err
	}
	now := s.now()
	dataset := BuildWorksDataset(works, now)

	renderer := s.csv
	if format == export.FormatPDF {
		renderer = s.pdf
	}
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}
	s.logger.Info("works exported",
		zap.String("user_id", userID),
		zap.String("format", string(format)),
		zap.Int("rows", len(works)))

	return &ExportResult{
		Filename:    fmt.Sprintf("works_%s.%s", now.Format("20060102_150405"), format),
		ContentType: format.ContentType(),
		Payload:     payload,
	}, nil
}

// BuildWorksDataset turns works into export rows.
func BuildWorksDataset(works []models.Work, generatedAt time.Time) export.Dataset {
	rows := make([]map[string]string, 0, len(works))
	for _, w := range works {
		rows = append(rows, map[string]string{
			"Title":        w.Title,
			"Status":       string(w.Status),
			"Progress":     fmt.Sprintf("%d%%", w.Progress),
			"Budget":       fmt.Sprintf("%d", w.Budget),
			"Deadline":     w.Deadline.Format("2006-01-02"),
			"Deliverables": deliverableSummary(w.Deliverables),
		})
	}
	return export.Dataset{
		Title:       "Works",
		Headers:     workExportHeaders,
		Rows:        rows,
		GeneratedAt: generatedAt,
	}
}

// deliverableSummary renders "Instagram Reel 1/2; TikTok Video 0/1".
func deliverableSummary(deliverables []models.Deliverable) string {
	parts := make([]string, 0, len(deliverables))
	for _, d := range deliverables {
		parts = append(parts, fmt.Sprintf("%s %d/%d", d.Title, d.Submitted, d.Required))
	}
	return strings.Join(parts, "; ")
}
