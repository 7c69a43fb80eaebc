package service

import (
	"context"
	"testing"
	"time"

	"health-smart-go/internal/common"
	"health-smart-go/internal/repository"
	"health-smart-go/pkg/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-16"

func newRedisSessionService(t *testing.T) (SessionService, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionService(token.NewJWTManager(testSecret, time.Hour), repository.NewTokenRepository(client)), s
}

func TestSession_IssueResolve(t *testing.T) {
	svc, _ := newRedisSessionService(t)
	ctx := context.Background()

	sess, err := svc.Issue(ctx, "user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, 5*time.Second)

	userID, err := svc.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestSession_RejectsForeignAndGarbageTokens(t *testing.T) {
	svc, _ := newRedisSessionService(t)
	ctx := context.Background()

	other := NewSessionService(token.NewJWTManager("another-secret-16chars", time.Hour), repository.NewNoopTokenRepository())
	foreign, err := other.Issue(ctx, "user-1")
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", foreign.Token} {
		_, err := svc.Resolve(ctx, tok)
		assert.ErrorIs(t, err, common.ErrUnauthenticated)
	}
}

func TestSession_Revoke(t *testing.T) {
	svc, mr := newRedisSessionService(t)
	ctx := context.Background()

	sess, err := svc.Issue(ctx, "user-1")
	require.NoError(t, err)
	second, err := svc.Issue(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, sess.Token))
	_, err = svc.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, common.ErrUnauthenticated)

	// 只吊销指定的 token
	_, err = svc.Resolve(ctx, second.Token)
	assert.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	ttl := mr.TTL(keys[0])
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	assert.ErrorIs(t, svc.Revoke(ctx, "garbage"), common.ErrUnauthenticated)
}

func TestSession_RevocationStoreDownFailsClosed(t *testing.T) {
	svc, mr := newRedisSessionService(t)
	ctx := context.Background()

	sess, err := svc.Issue(ctx, "user-1")
	require.NoError(t, err)
	mr.Close()

	_, err = svc.Resolve(ctx, sess.Token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrUnauthenticated)
}

func TestSession_NoopRevocation(t *testing.T) {
	svc := NewSessionService(token.NewJWTManager(testSecret, time.Hour), repository.NewNoopTokenRepository())
	ctx := context.Background()

	sess, err := svc.Issue(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, sess.Token))

	// 没有 Redis 时 token 只能等待过期
	userID, err := svc.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}
