package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
)

type cacheRepoStub struct {
	store    map[string][]byte
	getErr   error
	deleted  []string
	patterns []string
	ttl      time.Duration
}

func (c *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	if c.getErr != nil {
		return c.getErr
	}
	payload, ok := c.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (c *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.store[key] = payload
	c.ttl = ttl
	return nil
}

func (c *cacheRepoStub) Delete(ctx context.Context, keys ...string) error {
	c.deleted = append(c.deleted, keys...)
	return nil
}

func (c *cacheRepoStub) DeleteByPattern(ctx context.Context, pattern string) error {
	c.patterns = append(c.patterns, pattern)
	return nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := &cacheRepoStub{store: map[string][]byte{}}
	svc := NewCacheService(repo, NewMetricsService(), time.Minute, nil, true)
	ctx := context.Background()

	var out map[string]string
	hit, err := svc.Get(ctx, "fees:aggregate:s-1", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "fees:aggregate:s-1", map[string]string{"total": "10"}, 0))
	assert.Equal(t, time.Minute, repo.ttl)

	hit, err = svc.Get(ctx, "fees:aggregate:s-1", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "10", out["total"])

	require.NoError(t, svc.Invalidate(ctx, "fees:aggregate:s-1"))
	require.NoError(t, svc.InvalidatePattern(ctx, "fees:aggregate:*"))
	assert.Equal(t, []string{"fees:aggregate:s-1"}, repo.deleted)
	assert.Equal(t, []string{"fees:aggregate:*"}, repo.patterns)
}

func TestCacheServiceBackendErrorIsReported(t *testing.T) {
	repo := &cacheRepoStub{store: map[string][]byte{}, getErr: errors.New("connection refused")}
	svc := NewCacheService(repo, nil, 0, nil, true)

	var out map[string]string
	hit, err := svc.Get(context.Background(), "k", &out)
	assert.False(t, hit)
	assert.Error(t, err)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := &cacheRepoStub{store: map[string][]byte{}}
	svc := NewCacheService(repo, nil, 0, nil, false)
	assert.False(t, svc.Enabled())
	require.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	assert.Empty(t, repo.store)

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
	hit, err := nilSvc.Get(context.Background(), "k", nil)
	assert.False(t, hit)
	assert.NoError(t, err)
}
