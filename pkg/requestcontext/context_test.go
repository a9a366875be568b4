package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "safezone/pkg/domain"
)

func TestAccessors(t *testing.T) {
	ctx := context.Background()
	assert.True(t, UserID(ctx).IsNil())
	assert.Empty(t, RequestID(ctx))

	actor := id.UserID(uuid.New())
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	ctx = WithUserID(ctx, actor)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTime(ctx, fixed)

	assert.Equal(t, actor, UserID(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, fixed, Now(ctx))
}

func TestDetachKeepsValuesDropsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(WithRequestID(context.Background(), "req-2"))
	cancel()

	detached := Detach(ctx)
	assert.NoError(t, detached.Err())
	assert.Equal(t, "req-2", RequestID(detached))
}
