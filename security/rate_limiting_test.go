package security

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(client, 2, time.Minute)
	ctx := context.Background()

	mock.ExpectIncr("ratelimit:user:u1").SetVal(1)
	mock.ExpectExpire("ratelimit:user:u1", time.Minute).SetVal(true)
	mock.ExpectIncr("ratelimit:user:u1").SetVal(2)
	mock.ExpectIncr("ratelimit:user:u1").SetVal(3)

	ok, err := limiter.Allow(ctx, "user:u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "user:u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "user:u1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_RedisError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(client, 2, time.Minute)

	mock.ExpectIncr("ratelimit:ip:10.0.0.1").SetErr(assert.AnError)

	_, err := limiter.Allow(context.Background(), "ip:10.0.0.1")
	assert.ErrorIs(t, err, assert.AnError)
}
