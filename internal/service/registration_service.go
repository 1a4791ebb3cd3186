package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/study-analytics-api/internal/models"
	"github.com/noah-isme/study-analytics-api/internal/repository"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/sink"
)

const statusTimeLayout = "02-01-2006 15:04"

type registrationStore interface {
	Get(ctx context.Context, courseID, userID int64) (*models.CourseRegistration, error)
	Create(ctx context.Context, reg *models.CourseRegistration) error
	Delete(ctx context.Context, courseID, userID int64) error
	UpdateFrequency(ctx context.Context, courseID, userID int64, freq models.UpdateFrequency) error
}

type registrationStack interface {
	UserExists(ctx context.Context, rc models.RequestContext) (bool, error)
	DeleteIndex(ctx context.Context, rc models.RequestContext, courseID int64) (sink.Result, error)
}

// RegistrationService manages course opt-in and opt-out.
type RegistrationService struct {
	store  registrationStore
	stack  registrationStack
	logger *zap.Logger
	loc    *time.Location
}

// NewRegistrationService constructs a RegistrationService rendering timestamps in loc.
func NewRegistrationService(store registrationStore, stack registrationStack, logger *zap.Logger, loc *time.Location) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RegistrationService{store: store, stack: stack, logger: logger, loc: loc}
}

// Register opts courseID in for the lecturer. The analytics account must exist first.
func (s *RegistrationService) Register(ctx context.Context, rc models.RequestContext, courseID int64) (*models.RegistrationStatus, error) {
	exists, err := s.stack.UserExists(ctx, rc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSinkFailed.Code, appErrors.ErrSinkFailed.Status, "failed to verify analytics account")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "create your analytics account before adding courses")
	}

	reg := &models.CourseRegistration{
		CourseID:        courseID,
		UserID:          rc.UserID,
		Username:        rc.Identity,
		UpdateFrequency: models.UpdateFrequencyNone,
	}
	if err := s.store.Create(ctx, reg); err != nil {
		if errors.Is(err, repository.ErrDuplicateRegistration) {
			return nil, appErrors.ErrAlreadyRegistered
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register course")
	}
	s.logger.Info("course registered", zap.Int64("course_id", courseID), zap.String("identity", rc.Identity))
	return s.view(reg), nil
}

// Unregister deletes the course index on the analytics side and removes the registration.
func (s *RegistrationService) Unregister(ctx context.Context, rc models.RequestContext, courseID int64) error {
	if _, err := s.Require(ctx, rc, courseID); err != nil {
		return err
	}
	if _, err := s.stack.DeleteIndex(ctx, rc, courseID); err != nil {
		s.logger.Warn("delete index failed", zap.Int64("course_id", courseID), zap.String("identity", rc.Identity), zap.Error(err))
	}
	if err := s.store.Delete(ctx, courseID, rc.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotRegistered
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove course registration")
	}
	s.logger.Info("course unregistered", zap.Int64("course_id", courseID), zap.String("identity", rc.Identity))
	return nil
}

// UpdateFrequency changes the automatic update interval.
func (s *RegistrationService) UpdateFrequency(ctx context.Context, rc models.RequestContext, courseID int64, value int) (*models.RegistrationStatus, error) {
	freq, err := ParseUpdateFrequency(value)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateFrequency(ctx, courseID, rc.UserID, freq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotRegistered
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update frequency")
	}
	return s.Status(ctx, rc, courseID)
}

// Status returns the registration view; unregistered courses are reported, not failed.
func (s *RegistrationService) Status(ctx context.Context, rc models.RequestContext, courseID int64) (*models.RegistrationStatus, error) {
	reg, err := s.store.Get(ctx, courseID, rc.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.RegistrationStatus{CourseID: courseID}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return s.view(reg), nil
}

// Require loads the registration or fails with ErrNotRegistered.
func (s *RegistrationService) Require(ctx context.Context, rc models.RequestContext, courseID int64) (*models.CourseRegistration, error) {
	reg, err := s.store.Get(ctx, courseID, rc.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotRegistered
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return reg, nil
}

func (s *RegistrationService) view(reg *models.CourseRegistration) *models.RegistrationStatus {
	return &models.RegistrationStatus{
		Registered:       true,
		CourseID:         reg.CourseID,
		UpdateFrequency:  reg.UpdateFrequency,
		Frequency:        reg.UpdateFrequency.String(),
		LastDataSent:     s.formatEpoch(reg.TimeLastDataSent),
		LastManualUpdate: s.formatEpoch(reg.ManualUpdateTime),
		LastAutoUpdate:   s.formatEpoch(reg.AutoUpdateTime),
	}
}

func (s *RegistrationService) formatEpoch(epoch int64) string {
	if epoch <= 0 {
		return ""
	}
	return time.Unix(epoch, 0).In(s.loc).Format(statusTimeLayout)
}
