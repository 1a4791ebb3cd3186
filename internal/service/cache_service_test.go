package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
)

type cacheRepoStub struct {
	values   map[string]interface{}
	patterns []string
	err      error
}

func (r *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	if _, ok := r.values[key]; !ok {
		return appErrors.ErrCacheMiss
	}
	return nil
}

func (r *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.values == nil {
		r.values = map[string]interface{}{}
	}
	r.values[key] = value
	return nil
}

func (r *cacheRepoStub) DeleteByPattern(ctx context.Context, pattern string) error {
	r.patterns = append(r.patterns, pattern)
	return r.err
}

func TestCacheServiceGetRecordsHitsAndMisses(t *testing.T) {
	metrics := NewMetricsService()
	repo := &cacheRepoStub{}
	svc := NewCacheService(repo, metrics, 0, nil, true)

	var dest map[string]string
	hit, err := svc.Get(context.Background(), "study_analytics:settings:endpoints", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(context.Background(), "study_analytics:settings:endpoints", map[string]string{}, 0))
	hit, err = svc.Get(context.Background(), "study_analytics:settings:endpoints", &dest)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheMisses))
}

func TestCacheServiceInvalidate(t *testing.T) {
	repo := &cacheRepoStub{}
	svc := NewCacheService(repo, nil, time.Minute, nil, true)
	require.NoError(t, svc.Invalidate(context.Background(), "study_analytics:settings:*"))
	assert.Equal(t, []string{"study_analytics:settings:*"}, repo.patterns)

	repo.err = errors.New("redis down")
	assert.Error(t, svc.Invalidate(context.Background(), "study_analytics:settings:*"))

	disabled := NewCacheService(repo, nil, time.Minute, nil, false)
	require.NoError(t, disabled.Invalidate(context.Background(), "study_analytics:settings:*"))
	assert.Len(t, repo.patterns, 2)
}
