package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/study-analytics-api/internal/models"
	"github.com/noah-isme/study-analytics-api/pkg/jobs"
	"github.com/noah-isme/study-analytics-api/pkg/middleware/requestid"
)

type courseExporter interface {
	ExportCourse(ctx context.Context, rc models.RequestContext, courseID int64) (*BatchResult, error)
}

type endpointResolver interface {
	Endpoints(ctx context.Context) (models.Endpoints, error)
}

// ExportWorker bridges queue jobs to ExportService.
type ExportWorker struct {
	exporter  courseExporter
	endpoints endpointResolver
	metrics   jobObserver
	logger    *zap.Logger
}

// NewExportWorker constructs a worker.
func NewExportWorker(exporter courseExporter, endpoints endpointResolver, metrics jobObserver, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportWorker{exporter: exporter, endpoints: endpoints, metrics: metrics, logger: logger}
}

// Handle processes a queue job.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	payload, err := decodeExportPayload(job)
	if err != nil {
		return err
	}

	endpoints, err := w.endpoints.Endpoints(ctx)
	if err != nil {
		w.observe(payload.Trigger, "failed")
		return fmt.Errorf("resolve endpoints: %w", err)
	}
	requestID := payload.RequestID
	if requestID == "" {
		requestID = job.ID
	}
	rc := models.RequestContext{
		UserID:    payload.UserID,
		Login:     payload.Username,
		Identity:  ExternalIdentity(payload.Username),
		RequestID: requestID,
		Endpoints: endpoints,
	}

	result, err := w.exporter.ExportCourse(requestid.WithContext(ctx, requestID), rc, payload.CourseID)
	if err != nil {
		w.observe(payload.Trigger, "failed")
		return err
	}
	w.observe(payload.Trigger, "succeeded")
	w.logger.Sugar().Debugw("export job finished", "job_id", job.ID, "course_id", payload.CourseID, "pages", result.Pages)
	return nil
}

func (w *ExportWorker) observe(trigger models.ExportTrigger, outcome string) {
	if w.metrics != nil {
		w.metrics.ObserveJob(string(trigger), outcome)
	}
}

func decodeExportPayload(job jobs.Job) (models.ExportJobPayload, error) {
	if job.Type != models.JobTypeGradeExport {
		return models.ExportJobPayload{}, fmt.Errorf("unexpected job type %q", job.Type)
	}
	switch p := job.Payload.(type) {
	case models.ExportJobPayload:
		return p, nil
	case *models.ExportJobPayload:
		if p != nil {
			return *p, nil
		}
	}
	return models.ExportJobPayload{}, fmt.Errorf("job %s has no export payload", job.ID)
}
