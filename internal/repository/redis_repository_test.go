package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-finance-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	var out map[string]string
	err := repo.Get(ctx, "fees:aggregate:s-1", &out)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))
	require.NoError(t, repo.Set(ctx, "fees:aggregate:s-1", map[string]string{"a": "b"}, time.Minute))
	require.NoError(t, repo.Delete(ctx, "fees:aggregate:s-1"))
	require.NoError(t, repo.DeleteByPattern(ctx, "fees:aggregate:*"))
	require.NoError(t, repo.Ping(ctx))
}

func TestPaymentGuardWithoutClient(t *testing.T) {
	guard := NewPaymentGuardRepository(nil)
	ok, err := guard.Claim(context.Background(), "TX-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, guard.Release(context.Background(), "TX-1"))
}
