package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/study-analytics-api/internal/models"
	"github.com/noah-isme/study-analytics-api/internal/repository"
	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/sink"
)

type registrationStoreStub struct {
	regs map[[2]int64]models.CourseRegistration
	err  error
}

func newRegistrationStoreStub() *registrationStoreStub {
	return &registrationStoreStub{regs: map[[2]int64]models.CourseRegistration{}}
}

func (s *registrationStoreStub) Get(ctx context.Context, courseID, userID int64) (*models.CourseRegistration, error) {
	if s.err != nil {
		return nil, s.err
	}
	reg, ok := s.regs[[2]int64{courseID, userID}]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &reg, nil
}

func (s *registrationStoreStub) Create(ctx context.Context, reg *models.CourseRegistration) error {
	key := [2]int64{reg.CourseID, reg.UserID}
	if _, ok := s.regs[key]; ok {
		return repository.ErrDuplicateRegistration
	}
	reg.ID = int64(len(s.regs) + 1)
	s.regs[key] = *reg
	return nil
}

func (s *registrationStoreStub) Delete(ctx context.Context, courseID, userID int64) error {
	key := [2]int64{courseID, userID}
	if _, ok := s.regs[key]; !ok {
		return sql.ErrNoRows
	}
	delete(s.regs, key)
	return nil
}

func (s *registrationStoreStub) UpdateFrequency(ctx context.Context, courseID, userID int64, freq models.UpdateFrequency) error {
	key := [2]int64{courseID, userID}
	reg, ok := s.regs[key]
	if !ok {
		return sql.ErrNoRows
	}
	reg.UpdateFrequency = freq
	s.regs[key] = reg
	return nil
}

type registrationStackStub struct {
	exists    bool
	existsErr error
	deleteErr error
	deletes   []int64
}

func (s *registrationStackStub) UserExists(ctx context.Context, rc models.RequestContext) (bool, error) {
	return s.exists, s.existsErr
}

func (s *registrationStackStub) DeleteIndex(ctx context.Context, rc models.RequestContext, courseID int64) (sink.Result, error) {
	s.deletes = append(s.deletes, courseID)
	return sink.Result{Success: s.deleteErr == nil}, s.deleteErr
}

func TestRegisterThenUnregisterDeletesIndexOnce(t *testing.T) {
	store := newRegistrationStoreStub()
	stack := &registrationStackStub{exists: true}
	svc := NewRegistrationService(store, stack, nil, time.UTC)
	rc := lecturerContext()

	status, err := svc.Register(context.Background(), rc, 7)
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Equal(t, models.UpdateFrequencyNone, status.UpdateFrequency)
	assert.Equal(t, "jane_doe", store.regs[[2]int64{7, rc.UserID}].Username)

	require.NoError(t, svc.Unregister(context.Background(), rc, 7))
	assert.Equal(t, []int64{7}, stack.deletes)
	assert.Empty(t, store.regs)
}

func TestRegisterRequiresAccount(t *testing.T) {
	svc := NewRegistrationService(newRegistrationStoreStub(), &registrationStackStub{}, nil, nil)
	_, err := svc.Register(context.Background(), lecturerContext(), 7)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestRegisterDuplicate(t *testing.T) {
	svc := NewRegistrationService(newRegistrationStoreStub(), &registrationStackStub{exists: true}, nil, nil)
	_, err := svc.Register(context.Background(), lecturerContext(), 7)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), lecturerContext(), 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyRegistered))
}

func TestUnregisterNotRegistered(t *testing.T) {
	stack := &registrationStackStub{exists: true}
	svc := NewRegistrationService(newRegistrationStoreStub(), stack, nil, nil)
	err := svc.Unregister(context.Background(), lecturerContext(), 7)
	assert.True(t, errors.Is(err, appErrors.ErrNotRegistered))
	assert.Empty(t, stack.deletes)
}

func TestUnregisterToleratesIndexFailure(t *testing.T) {
	store := newRegistrationStoreStub()
	stack := &registrationStackStub{exists: true, deleteErr: errors.New("404")}
	svc := NewRegistrationService(store, stack, nil, nil)
	_, err := svc.Register(context.Background(), lecturerContext(), 7)
	require.NoError(t, err)

	require.NoError(t, svc.Unregister(context.Background(), lecturerContext(), 7))
	assert.Empty(t, store.regs)
}

func TestUpdateFrequencyAndStatus(t *testing.T) {
	store := newRegistrationStoreStub()
	svc := NewRegistrationService(store, &registrationStackStub{exists: true}, nil, time.UTC)
	rc := lecturerContext()
	_, err := svc.Register(context.Background(), rc, 7)
	require.NoError(t, err)

	status, err := svc.UpdateFrequency(context.Background(), rc, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, "weekly", status.Frequency)

	_, err = svc.UpdateFrequency(context.Background(), rc, 7, 5)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.UpdateFrequency(context.Background(), rc, 8, 1)
	assert.True(t, errors.Is(err, appErrors.ErrNotRegistered))

	reg := store.regs[[2]int64{7, rc.UserID}]
	reg.TimeLastDataSent = 1700000000
	store.regs[[2]int64{7, rc.UserID}] = reg
	status, err = svc.Status(context.Background(), rc, 7)
	require.NoError(t, err)
	assert.Equal(t, "14-11-2023 22:13", status.LastDataSent)
	assert.Empty(t, status.LastManualUpdate)

	status, err = svc.Status(context.Background(), rc, 99)
	require.NoError(t, err)
	assert.False(t, status.Registered)
}
