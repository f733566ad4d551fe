package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvalidator struct {
	roleCalls []int64
	userCalls []int64
	roleErr   error
	userErr   error
}

func (f *fakeInvalidator) InvalidateRole(ctx context.Context, roleID int64) error {
	f.roleCalls = append(f.roleCalls, roleID)
	return f.roleErr
}

func (f *fakeInvalidator) InvalidateAllUsersWithRole(ctx context.Context, roleID int64) (int, error) {
	f.userCalls = append(f.userCalls, roleID)
	return 3, f.userErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCacheReconcileHandlerInvalidatesRoleAndUsers(t *testing.T) {
	cache := &fakeInvalidator{}
	handler := NewCacheReconcileHandler(cache, discardLogger(), nil)

	task, err := NewCacheReconcileTask(CacheReconcilePayload{RoleID: 7})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, []int64{7}, cache.roleCalls)
	assert.Equal(t, []int64{7}, cache.userCalls)
}

func TestCacheReconcileHandlerSkipsRetryOnBadPayload(t *testing.T) {
	cache := &fakeInvalidator{}
	handler := NewCacheReconcileHandler(cache, discardLogger(), nil)

	task := asynq.NewTask(TaskTypeCacheReconcile, []byte("not json"))
	err := handler(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry, "an unparsable payload never becomes valid, so retrying is pointless")
	assert.Empty(t, cache.roleCalls)
}

func TestCacheReconcileHandlerReturnsErrorForRetry(t *testing.T) {
	cache := &fakeInvalidator{userErr: assert.AnError}
	handler := NewCacheReconcileHandler(cache, discardLogger(), nil)

	task, err := NewCacheReconcileTask(CacheReconcilePayload{RoleID: 7})
	require.NoError(t, err)

	err = handler(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry, "a transient fan-out failure must stay retryable")
}

func TestDailyDigestHandlerCoversPreviousDay(t *testing.T) {
	var got time.Time
	handler := NewDailyDigestHandler(func(ctx context.Context, day time.Time) error {
		got = day
		return nil
	}, discardLogger(), nil)

	require.NoError(t, handler(context.Background(), NewDailyDigestTask()))
	assert.Equal(t, time.Now().UTC().AddDate(0, 0, -1).Day(), got.Day())
}
