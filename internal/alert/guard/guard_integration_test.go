//go:build integration

package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safezone/pkg/testutil/containers"
)

func TestRedisGuard_ClaimOnce(t *testing.T) {
	container := containers.GetRedisContainer(t)
	client := container.Client

	ctx := context.Background()
	g := NewRedisGuard(client, time.Minute)
	key := "alert:" + t.Name()

	ok, err := g.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.TTL(ctx, keyPrefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
