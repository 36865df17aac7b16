package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-finance-api/internal/dto"
	"github.com/noah-isme/sma-finance-api/internal/models"
	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
	"github.com/noah-isme/sma-finance-api/pkg/export"
)

// StatementFormat selects how a fee statement is rendered.
type StatementFormat string

const (
	StatementFormatJSON StatementFormat = "json"
	StatementFormatCSV  StatementFormat = "csv"
	StatementFormatPDF  StatementFormat = "pdf"
)

// ParseStatementFormat accepts json, csv or pdf. Empty means json.
func ParseStatementFormat(raw string) (StatementFormat, error) {
	switch StatementFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StatementFormatJSON:
		return StatementFormatJSON, nil
	case StatementFormatCSV:
		return StatementFormatCSV, nil
	case StatementFormatPDF:
		return StatementFormatPDF, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "format must be one of json, csv, pdf")
	}
}

var statementHeaders = []string{"Period", "Fee Type", "Description", "Base", "Absence Fine", "Adjustments", "Amount", "Paid", "Remaining", "Status"}

// ExportConfig tunes rendered statements.
type ExportConfig struct {
	SchoolName string
	Currency   string
}

// RenderedStatement is a statement encoded for download.
type RenderedStatement struct {
	Filename    string
	ContentType string
	Body        []byte
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportService turns fee statements into CSV or PDF documents.
type ExportService struct {
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
	cfg    ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if cfg.SchoolName == "" {
		cfg.SchoolName = "Fee Statement"
	}
	return &ExportService{csv: csv, pdf: pdf, logger: logger, cfg: cfg}
}

// RenderStatement encodes the statement in a downloadable format.
func (s *ExportService) RenderStatement(stmt *dto.StatementResponse, format StatementFormat) (*RenderedStatement, error) {
	if stmt == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "statement missing")
	}
	dataset := s.statementDataset(stmt)

	var (
		body        []byte
		contentType string
		err         error
	)
	switch format {
	case StatementFormatCSV:
		body, err = s.csv.Render(dataset)
		contentType = "text/csv"
	case StatementFormatPDF:
		body, err = s.pdf.Render(dataset)
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported statement format %s", format))
	}
	if err != nil {
		s.logger.Error("failed to render statement", zap.String("student_id", stmt.StudentID), zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to render statement")
	}

	filename := fmt.Sprintf("statement_%s_%s.%s", sanitizeFilename(stmt.NIS), stmt.GeneratedAt.Format("20060102"), format)
	return &RenderedStatement{Filename: filename, ContentType: contentType, Body: body}, nil
}

func (s *ExportService) statementDataset(stmt *dto.StatementResponse) export.Dataset {
	rows := make([]map[string]string, 0, len(stmt.Records))
	for _, record := range stmt.Records {
		rows = append(rows, map[string]string{
			"Period":       models.MonthLabel(record.PeriodDueDate),
			"Fee Type":     string(record.FeeType),
			"Description":  record.Description,
			"Base":         money(record.BaseAmount),
			"Absence Fine": money(record.AbsenceFine),
			"Adjustments":  money(record.OtherAdjustments),
			"Amount":       money(record.Amount),
			"Paid":         money(record.PaidAmount),
			"Remaining":    money(record.RemainingAmount),
			"Status":       string(record.Status),
		})
	}

	subtitle := fmt.Sprintf("%s (NIS %s) - generated %s", stmt.StudentName, stmt.NIS, stmt.GeneratedAt.Format("2006-01-02 15:04 MST"))
	return export.Dataset{
		Title:    s.cfg.SchoolName,
		Subtitle: subtitle,
		Headers:  statementHeaders,
		Rows:     rows,
		Summary: []export.SummaryLine{
			{Label: "Total amount", Value: s.withCurrency(stmt.Totals.TotalAmount)},
			{Label: "Total paid", Value: s.withCurrency(stmt.Totals.TotalPaid)},
			{Label: "Total remaining", Value: s.withCurrency(stmt.Totals.TotalRemaining)},
			{Label: "Total fines", Value: s.withCurrency(stmt.Totals.TotalFines)},
			{Label: "Payments recorded", Value: fmt.Sprintf("%d", len(stmt.Payments))},
		},
	}
}

func (s *ExportService) withCurrency(v decimal.Decimal) string {
	if s.cfg.Currency == "" {
		return money(v)
	}
	return s.cfg.Currency + " " + money(v)
}

func money(v decimal.Decimal) string {
	return v.StringFixed(2)
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
