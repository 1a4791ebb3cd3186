package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/study-analytics-api/internal/models"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/export"
)

var snapshotHeaders = []string{
	models.FieldUniID,
	models.FieldFirstName,
	models.FieldLastName,
	models.FieldEmail,
	models.FieldLastAccess,
	models.FieldGradeName,
	models.FieldGrade,
}

type gradeCollector interface {
	CollectGradeRecords(ctx context.Context, rc models.RequestContext, courseID int64) ([]models.ExportRecord, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title, subtitle string) ([]byte, error)
}

// Snapshot is a rendered grade snapshot.
type Snapshot struct {
	Filename    string
	ContentType string
	Content     []byte
}

// SnapshotService renders the records of the next export for the lecturer.
type SnapshotService struct {
	collector gradeCollector
	csv       csvRenderer
	pdf       pdfRenderer
	now       func() time.Time
}

// NewSnapshotService constructs a SnapshotService. Nil renderers fall back to the defaults.
func NewSnapshotService(collector gradeCollector, csv csvRenderer, pdf pdfRenderer) *SnapshotService {
	if csv == nil {
		csv = export.NewCSVExporter(rosterDelimiter)
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &SnapshotService{collector: collector, csv: csv, pdf: pdf, now: time.Now}
}

// Render builds the snapshot of courseID in the requested format.
func (s *SnapshotService) Render(ctx context.Context, rc models.RequestContext, courseID int64, format models.SnapshotFormat) (*Snapshot, error) {
	if format == "" {
		format = models.SnapshotFormatCSV
	}
	if format != models.SnapshotFormatCSV && format != models.SnapshotFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	records, err := s.collector.CollectGradeRecords(ctx, rc, courseID)
	if err != nil {
		return nil, err
	}
	dataset := export.Dataset{Headers: snapshotHeaders, Rows: make([]map[string]string, 0, len(records))}
	for _, record := range records {
		row := make(map[string]string, len(snapshotHeaders))
		for _, key := range snapshotHeaders {
			row[key] = snapshotCell(record[key])
		}
		dataset.Rows = append(dataset.Rows, row)
	}

	base := fmt.Sprintf("grades_%d_%s", courseID, s.now().UTC().Format("20060102_150405"))
	switch format {
	case models.SnapshotFormatPDF:
		title := fmt.Sprintf("Course %d grades", courseID)
		subtitle := fmt.Sprintf("%s, %d participants", rc.Identity, len(records))
		content, err := s.pdf.Render(dataset, title, subtitle)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render snapshot")
		}
		return &Snapshot{Filename: base + ".pdf", ContentType: "application/pdf", Content: content}, nil
	default:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render snapshot")
		}
		return &Snapshot{Filename: base + ".csv", ContentType: "text/csv; charset=utf-8", Content: content}, nil
	}
}

func snapshotCell(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []float64:
		parts := make([]string, len(v))
		for i, f := range v {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		return strings.Join(parts, ";")
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
