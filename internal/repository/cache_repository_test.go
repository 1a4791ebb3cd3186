package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	var dest map[string]string
	err := repo.Get(ctx, "settings:all", &dest)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))

	require.NoError(t, repo.Set(ctx, "settings:all", map[string]string{"a": "b"}, time.Minute))
	require.NoError(t, repo.Delete(ctx, "settings:all"))
	require.NoError(t, repo.DeleteByPattern(ctx, "settings:*"))

	ok, err := repo.AcquireLock(ctx, "lock", "me", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	released, err := repo.ReleaseLock(ctx, "lock", "me")
	require.NoError(t, err)
	assert.True(t, released)
	assert.NoError(t, repo.Close())
}

func TestCacheRepositoryLockErrorsWrapKey(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	repo := NewCacheRepository(client, nil)
	defer repo.Close()
	ctx := context.Background()

	_, err := repo.AcquireLock(ctx, "study_analytics:scheduler:lock", "me", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis setnx study_analytics:scheduler:lock")

	released, err := repo.ReleaseLock(ctx, "study_analytics:scheduler:lock", "me")
	require.Error(t, err)
	assert.False(t, released)
	assert.Contains(t, err.Error(), "redis release study_analytics:scheduler:lock")
}
