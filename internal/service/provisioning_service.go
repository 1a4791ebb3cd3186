package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/study-analytics-api/internal/dto"
	"github.com/noah-isme/study-analytics-api/internal/models"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/sink"
)

type provisioningStore interface {
	Get(ctx context.Context, identity string) (*models.ProvisioningState, error)
	MarkStep(ctx context.Context, identity string, step models.ProvisioningStep, at time.Time) error
	RecordError(ctx context.Context, identity, message string) error
}

type provisioningStack interface {
	UserExists(ctx context.Context, rc models.RequestContext) (bool, error)
	CreateUser(ctx context.Context, rc models.RequestContext, password string) (sink.Result, error)
	CreateSpace(ctx context.Context, rc models.RequestContext) (sink.Result, error)
	PutRole(ctx context.Context, rc models.RequestContext) (sink.Result, error)
	CopyDashboard(ctx context.Context, rc models.RequestContext) (sink.Result, error)
}

// ProvisioningService creates the lecturer's analytics account, space, role and dashboard.
// Progress is persisted per step so a failed attempt resumes where it stopped.
type ProvisioningService struct {
	store     provisioningStore
	stack     provisioningStack
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewProvisioningService constructs a ProvisioningService.
func NewProvisioningService(store provisioningStore, stack provisioningStack, validate *validator.Validate, logger *zap.Logger) *ProvisioningService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProvisioningService{store: store, stack: stack, validator: validate, logger: logger, now: time.Now}
}

// Provision runs every incomplete step in order and stops at the first failure.
func (s *ProvisioningService) Provision(ctx context.Context, rc models.RequestContext, req dto.ProvisionRequest) (*models.ProvisioningStatus, error) {
	state, err := s.store.Get(ctx, rc.Identity)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load provisioning state")
	}
	if state.Complete() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "analytics account is already provisioned")
	}

	for _, step := range models.ProvisioningSteps {
		if state.Done(step) {
			continue
		}
		if err := s.runStep(ctx, rc, step, req); err != nil {
			if errors.Is(err, appErrors.ErrValidation) {
				return nil, err
			}
			message := fmt.Sprintf("%s: %v", step, err)
			if recErr := s.store.RecordError(ctx, rc.Identity, message); recErr != nil {
				s.logger.Error("failed to record provisioning error", zap.String("identity", rc.Identity), zap.Error(recErr))
			}
			s.logger.Warn("provisioning step failed", zap.String("identity", rc.Identity), zap.String("step", string(step)), zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrSinkFailed.Code, appErrors.ErrSinkFailed.Status, fmt.Sprintf("provisioning step %s failed", step))
		}
		if err := s.store.MarkStep(ctx, rc.Identity, step, s.now()); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save provisioning progress")
		}
		s.logger.Info("provisioning step completed", zap.String("identity", rc.Identity), zap.String("step", string(step)))
	}

	return s.Status(ctx, rc)
}

func (s *ProvisioningService) runStep(ctx context.Context, rc models.RequestContext, step models.ProvisioningStep, req dto.ProvisionRequest) error {
	switch step {
	case models.StepCreateUser:
		exists, err := s.stack.UserExists(ctx, rc)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		// The password only matters for a new account.
		if err := s.validator.Struct(req); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "password must be 8 to 25 characters")
		}
		_, err = s.stack.CreateUser(ctx, rc, req.Password)
		return err
	case models.StepCreateSpace:
		_, err := s.stack.CreateSpace(ctx, rc)
		return err
	case models.StepCreateRole:
		_, err := s.stack.PutRole(ctx, rc)
		return err
	case models.StepCopyDashboard:
		if rc.Endpoints.TemplateDashboardID == "" {
			s.logger.Info("no template dashboard configured, skipping copy", zap.String("identity", rc.Identity))
			return nil
		}
		_, err := s.stack.CopyDashboard(ctx, rc)
		return err
	}
	return fmt.Errorf("unknown provisioning step %q", step)
}

// Status reports stored progress and whether the remote account exists.
func (s *ProvisioningService) Status(ctx context.Context, rc models.RequestContext) (*models.ProvisioningStatus, error) {
	state, err := s.store.Get(ctx, rc.Identity)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load provisioning state")
	}

	exists, err := s.stack.UserExists(ctx, rc)
	if err != nil {
		s.logger.Warn("account lookup failed", zap.String("identity", rc.Identity), zap.Error(err))
		exists = state.Done(models.StepCreateUser)
	}

	status := &models.ProvisioningStatus{
		Identity:      rc.Identity,
		AccountExists: exists,
		Complete:      state.Complete(),
		LastError:     state.LastError,
		Steps:         make([]models.ProvisioningStepStatus, 0, len(models.ProvisioningSteps)),
	}
	completed := map[models.ProvisioningStep]*time.Time{
		models.StepCreateUser:    state.UserCreatedAt,
		models.StepCreateSpace:   state.SpaceCreatedAt,
		models.StepCreateRole:    state.RoleCreatedAt,
		models.StepCopyDashboard: state.DashboardCopied,
	}
	for _, step := range models.ProvisioningSteps {
		status.Steps = append(status.Steps, models.ProvisioningStepStatus{
			Step:        step,
			Done:        state.Done(step),
			CompletedAt: completed[step],
		})
	}
	return status, nil
}
