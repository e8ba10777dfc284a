package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, nil), mr
}

func TestRedisStoreContract(t *testing.T) {
	runHistoryStoreContract(t, func(t *testing.T) HistoryStore {
		s, _ := newTestRedisStore(t)
		return s
	})
}

func TestRedisStoreUnknownUserAppend(t *testing.T) {
	s, _ := newTestRedisStore(t)
	err := s.AppendTurn(context.Background(), "missing", chat.Turn{ID: "t1"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRedisStoreKeys(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, chat.UserProfile{Name: "Ana"})
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(ctx, user.ID, chat.Turn{ID: "t1", Input: "hi"}))

	assert.True(t, mr.Exists(userNameKey("Ana")))
	assert.True(t, mr.Exists(turnIndexKey(user.ID)))
	assert.Equal(t, "Ana", mustGet(t, mr, userIDKey(user.ID)))
}

// dropIndexWrites fails the next n commands that touch a user id key before they reach the server.
type dropIndexWrites struct {
	remaining atomic.Int32
}

func (h *dropIndexWrites) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *dropIndexWrites) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if touchesUserIndex(cmd) && h.remaining.Add(-1) >= 0 {
			err := errors.New("connection reset by peer")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *dropIndexWrites) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func touchesUserIndex(cmd redis.Cmder) bool {
	for _, arg := range cmd.Args() {
		if strings.HasPrefix(fmt.Sprint(arg), userIDKey("")) {
			return true
		}
	}
	return false
}

func TestRedisCreateUserFailureLeavesNameFree(t *testing.T) {
	s, mr := newTestRedisStore(t)
	hook := &dropIndexWrites{}
	hook.remaining.Store(1)
	s.redis.AddHook(hook)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, chat.UserProfile{Name: "Ana"})
	require.Error(t, err)
	assert.False(t, mr.Exists(userNameKey("Ana")), "a failed registration must not claim the name")

	user, err := s.CreateUser(ctx, chat.UserProfile{Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", mustGet(t, mr, userIDKey(user.ID)))
	require.NoError(t, s.AppendTurn(ctx, user.ID, chat.Turn{ID: "t1", Input: "hi"}))
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()

	_, err := s.FindUserByName(context.Background(), "Ana")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserNotFound)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	value, err := mr.Get(key)
	require.NoError(t, err)
	return value
}
