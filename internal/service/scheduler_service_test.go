package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scheduledRunnerStub struct {
	runs   int
	err    error
	during func()
}

func (s *scheduledRunnerStub) RunScheduled(ctx context.Context) (ScheduleSummary, error) {
	s.runs++
	if s.during != nil {
		s.during()
	}
	return ScheduleSummary{}, s.err
}

type lockStub struct {
	held     map[string]string
	ttl      time.Duration
	err      error
	releases int
}

func (l *lockStub) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.held == nil {
		l.held = map[string]string{}
	}
	l.ttl = ttl
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = owner
	return true, nil
}

func (l *lockStub) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	l.releases++
	if l.held[key] != owner {
		return false, nil
	}
	delete(l.held, key)
	return true, nil
}

func TestSchedulerRejectsInvalidSpec(t *testing.T) {
	_, err := NewSchedulerService(&scheduledRunnerStub{}, nil, nil, SchedulerConfig{Spec: "every day"})
	assert.Error(t, err)
}

func TestSchedulerTickSkipsWhileAnotherReplicaRuns(t *testing.T) {
	lock := &lockStub{}
	runner := &scheduledRunnerStub{}
	first, err := NewSchedulerService(runner, lock, nil, SchedulerConfig{})
	require.NoError(t, err)
	second, err := NewSchedulerService(&scheduledRunnerStub{}, lock, nil, SchedulerConfig{})
	require.NoError(t, err)
	second.owner = "other-host:2"

	var overlapped bool
	runner.during = func() { overlapped = second.Tick() }

	assert.True(t, first.Tick())
	assert.False(t, overlapped)
	assert.Equal(t, 1, runner.runs)
	assert.Equal(t, defaultSchedulerLockTTL, lock.ttl)
	assert.Empty(t, lock.held)
}

func TestSchedulerConsecutiveTicksBothRun(t *testing.T) {
	lock := &lockStub{}
	runner := &scheduledRunnerStub{}
	svc, err := NewSchedulerService(runner, lock, nil, SchedulerConfig{Spec: "0 */5 * * * *"})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.True(t, svc.Tick(), "tick %d", i)
	}
	assert.Equal(t, 4, runner.runs)
	assert.Equal(t, 4, lock.releases)
	assert.Empty(t, lock.held)
}

func TestSchedulerReleasesLockAfterFailedRun(t *testing.T) {
	lock := &lockStub{}
	svc, err := NewSchedulerService(&scheduledRunnerStub{err: errors.New("db down")}, lock, nil, SchedulerConfig{})
	require.NoError(t, err)
	assert.True(t, svc.Tick())
	assert.Empty(t, lock.held)
}

func TestSchedulerLeavesLockTakenOverByOtherOwner(t *testing.T) {
	lock := &lockStub{}
	runner := &scheduledRunnerStub{}
	svc, err := NewSchedulerService(runner, lock, nil, SchedulerConfig{})
	require.NoError(t, err)
	runner.during = func() { lock.held[schedulerLockKey] = "other-host:2" }

	assert.True(t, svc.Tick())
	assert.Equal(t, 1, lock.releases)
	assert.Equal(t, "other-host:2", lock.held[schedulerLockKey])
}

func TestSchedulerTickLockError(t *testing.T) {
	runner := &scheduledRunnerStub{}
	svc, err := NewSchedulerService(runner, &lockStub{err: errors.New("redis down")}, nil, SchedulerConfig{})
	require.NoError(t, err)
	assert.False(t, svc.Tick())
	assert.Zero(t, runner.runs)
}

func TestSchedulerTickWithoutLocker(t *testing.T) {
	runner := &scheduledRunnerStub{err: errors.New("db down")}
	svc, err := NewSchedulerService(runner, nil, nil, SchedulerConfig{})
	require.NoError(t, err)
	assert.True(t, svc.Tick())
	assert.Equal(t, 1, runner.runs)
}

func TestSchedulerStartStop(t *testing.T) {
	svc, err := NewSchedulerService(&scheduledRunnerStub{}, nil, nil, SchedulerConfig{Spec: "0 0 3 * * *"})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()
	svc.Stop()
}
