package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/study-analytics-api/internal/dto"
	"github.com/noah-isme/study-analytics-api/internal/models"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/jobs"
)

type updateLedger interface {
	Get(ctx context.Context, courseID, userID int64) (*models.CourseRegistration, error)
	ListScheduled(ctx context.Context) ([]models.CourseRegistration, error)
	TouchAutoUpdate(ctx context.Context, courseID, userID, at int64) error
	TouchManualUpdate(ctx context.Context, courseID, userID, at int64) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type jobObserver interface {
	ObserveJob(trigger, outcome string)
}

// ScheduleSummary reports one scheduler tick.
type ScheduleSummary struct {
	Checked  int
	Enqueued int
	Failed   int
}

// UpdateService enqueues grade exports for manual and automatic updates.
type UpdateService struct {
	ledger  updateLedger
	queue   jobDispatcher
	metrics jobObserver
	logger  *zap.Logger
	now     func() time.Time
}

// NewUpdateService constructs an UpdateService.
func NewUpdateService(ledger updateLedger, queue jobDispatcher, metrics jobObserver, logger *zap.Logger) *UpdateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UpdateService{ledger: ledger, queue: queue, metrics: metrics, logger: logger, now: time.Now}
}

// TriggerManual enqueues an export for a registered course regardless of its schedule.
func (s *UpdateService) TriggerManual(ctx context.Context, rc models.RequestContext, courseID int64) (*dto.ManualUpdateResponse, error) {
	reg, err := s.ledger.Get(ctx, courseID, rc.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotRegistered
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	job, err := s.enqueue(*reg, models.ExportTriggerManual, rc.RequestID)
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Wrap(err, appErrors.ErrBusy.Code, appErrors.ErrBusy.Status, appErrors.ErrBusy.Message)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue grade export")
	}
	if err := s.ledger.TouchManualUpdate(ctx, courseID, rc.UserID, s.now().Unix()); err != nil {
		s.logger.Warn("failed to record manual update time", zap.Int64("course_id", courseID), zap.Error(err))
	}
	return &dto.ManualUpdateResponse{JobID: job.ID, CourseID: courseID}, nil
}

// RunScheduled enqueues an export for every registration whose interval has elapsed.
func (s *UpdateService) RunScheduled(ctx context.Context) (ScheduleSummary, error) {
	var summary ScheduleSummary
	regs, err := s.ledger.ListScheduled(ctx)
	if err != nil {
		return summary, err
	}

	now := s.now().Unix()
	for _, reg := range regs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		if !IsDue(reg.AutoUpdateTime, reg.UpdateFrequency, now) {
			continue
		}
		if _, err := s.enqueue(reg, models.ExportTriggerScheduled, ""); err != nil {
			summary.Failed++
			s.logger.Error("failed to enqueue scheduled export", zap.Int64("course_id", reg.CourseID), zap.Int64("user_id", reg.UserID), zap.Error(err))
			continue
		}
		summary.Enqueued++
		if err := s.ledger.TouchAutoUpdate(ctx, reg.CourseID, reg.UserID, now); err != nil {
			s.logger.Warn("failed to record auto update time", zap.Int64("course_id", reg.CourseID), zap.Error(err))
		}
	}
	s.logger.Info("scheduled update finished",
		zap.Int("checked", summary.Checked),
		zap.Int("enqueued", summary.Enqueued),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (s *UpdateService) enqueue(reg models.CourseRegistration, trigger models.ExportTrigger, requestID string) (jobs.Job, error) {
	job := jobs.Job{
		ID:   uuid.NewString(),
		Type: models.JobTypeGradeExport,
		Payload: models.ExportJobPayload{
			CourseID:  reg.CourseID,
			UserID:    reg.UserID,
			Username:  reg.Username,
			Trigger:   trigger,
			RequestID: requestID,
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.observe(trigger, "rejected")
		return job, err
	}
	s.observe(trigger, "enqueued")
	return job, nil
}

func (s *UpdateService) observe(trigger models.ExportTrigger, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveJob(string(trigger), outcome)
	}
}
