package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*RedisLocker, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	l := NewRedisLocker(rdb)
	l.token = func() string { return "tok" }
	return l, mock
}

func TestTryAcquire_AndRelease(t *testing.T) {
	l, mock := newLocker(t)
	ctx := context.Background()

	mock.ExpectSetNX("lock:sweeper", "tok", 4*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"lock:sweeper"}, "tok").SetVal(int64(1))

	le, err := l.TryAcquire(ctx, "sweeper", 4*time.Second)
	require.NoError(t, err)
	require.NotNil(t, le)
	assert.Equal(t, "lock:sweeper", le.Key)

	ok, err := le.Release(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAcquire_Held(t *testing.T) {
	l, mock := newLocker(t)
	mock.ExpectSetNX("lock:sweeper", "tok", time.Second).SetVal(false)

	le, err := l.TryAcquire(context.Background(), "sweeper", time.Second)
	assert.NoError(t, err)
	assert.Nil(t, le)
}

func TestTryAcquire_RedisError(t *testing.T) {
	l, mock := newLocker(t)
	mock.ExpectSetNX("lock:sweeper", "tok", time.Second).SetErr(errors.New("conn refused"))

	_, err := l.TryAcquire(context.Background(), "sweeper", time.Second)
	assert.Error(t, err)
}

func TestTryAcquire_Invalid(t *testing.T) {
	l, _ := newLocker(t)
	_, err := l.TryAcquire(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrInvalidLock)
	_, err = l.TryAcquire(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidLock)
}

func TestRelease_LeaseLost(t *testing.T) {
	l, mock := newLocker(t)
	mock.ExpectSetNX("lock:k", "tok", time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"lock:k"}, "tok").SetVal(int64(0))

	le, err := l.TryAcquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	ok, err := le.Release(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
