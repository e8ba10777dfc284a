package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

// runHistoryStoreContract exercises the behaviour every backend must share.
func runHistoryStoreContract(t *testing.T, newStore func(t *testing.T) HistoryStore) {
	t.Run("create and find user", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreateUser(ctx, chat.UserProfile{Name: "Ana", Age: 29, Problem: "insomnia"})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())

		found, err := s.FindUserByName(ctx, "Ana")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, 29, found.Age)
		assert.Equal(t, "insomnia", found.Problem)
		assert.True(t, created.CreatedAt.Equal(found.CreatedAt))
	})

	t.Run("duplicate name", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateUser(ctx, chat.UserProfile{Name: "Ana"})
		require.NoError(t, err)
		_, err = s.CreateUser(ctx, chat.UserProfile{Name: "Ana", Age: 40})
		assert.ErrorIs(t, err, ErrDuplicateUser)
	})

	t.Run("concurrent registration admits one", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			dupes     int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CreateUser(ctx, chat.UserProfile{Name: "Race"})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrDuplicateUser):
					dupes++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
		assert.Equal(t, 7, dupes)
	})

	t.Run("unknown user", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindUserByName(context.Background(), "nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("turns round trip oldest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user, err := s.CreateUser(ctx, chat.UserProfile{Name: "Ben"})
		require.NoError(t, err)

		base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.AppendTurn(ctx, user.ID, chat.Turn{
				ID:        fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i),
				Input:     fmt.Sprintf("input %d", i),
				Modality:  chat.ModalityText,
				Emotions:  emotion.Observation{emotion.ChannelText: "sad", emotion.ChannelFacial: "unknown"},
				Reply:     fmt.Sprintf("reply %d", i),
				Timestamp: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		turns, err := s.ListRecentTurns(ctx, user.ID, 3)
		require.NoError(t, err)
		require.Len(t, turns, 3)
		assert.Equal(t, "input 2", turns[0].Input)
		assert.Equal(t, "input 4", turns[2].Input)
		assert.Equal(t, "sad", turns[2].Emotions[emotion.ChannelText])
		assert.True(t, turns[2].Timestamp.Equal(base.Add(4*time.Minute)))

		all, err := s.ListRecentTurns(ctx, user.ID, 50)
		require.NoError(t, err)
		assert.Len(t, all, 5)

		none, err := s.ListRecentTurns(ctx, user.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("append turn is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user, err := s.CreateUser(ctx, chat.UserProfile{Name: "Cy"})
		require.NoError(t, err)

		turn := chat.Turn{
			ID:        "11111111-1111-1111-1111-111111111111",
			Input:     "hello",
			Modality:  chat.ModalityAudio,
			Emotions:  emotion.Observation{emotion.ChannelText: "happy"},
			Reply:     "hi",
			Timestamp: time.Now(),
		}
		require.NoError(t, s.AppendTurn(ctx, user.ID, turn))
		require.NoError(t, s.AppendTurn(ctx, user.ID, turn))

		turns, err := s.ListRecentTurns(ctx, user.ID, 10)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, chat.ModalityAudio, turns[0].Modality)
	})

	t.Run("late retry of an earlier turn keeps order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user, err := s.CreateUser(ctx, chat.UserProfile{Name: "Fay"})
		require.NoError(t, err)

		base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, s.AppendTurn(ctx, user.ID, chat.Turn{ID: "b", Input: "second", Timestamp: base.Add(time.Minute)}))
		require.NoError(t, s.AppendTurn(ctx, user.ID, chat.Turn{ID: "a", Input: "first", Timestamp: base}))

		turns, err := s.ListRecentTurns(ctx, user.ID, 5)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "first", turns[0].Input)
		assert.Equal(t, "second", turns[1].Input)
	})

	t.Run("turn without id is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user, err := s.CreateUser(ctx, chat.UserProfile{Name: "Dee"})
		require.NoError(t, err)
		assert.ErrorIs(t, s.AppendTurn(ctx, user.ID, chat.Turn{Input: "x"}), ErrInvalidTurn)
	})

	t.Run("conflicts are append only", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user, err := s.CreateUser(ctx, chat.UserProfile{Name: "Eve"})
		require.NoError(t, err)

		base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		for i, dominant := range []string{"angry", "sad", "fearful"} {
			require.NoError(t, s.AppendConflict(ctx, chat.ConflictRecord{
				UserID:      user.ID,
				Observation: emotion.Observation{emotion.ChannelText: dominant, emotion.ChannelFacial: "happy"},
				Dominant:    dominant,
				Timestamp:   base.Add(time.Duration(i) * time.Second),
			}))
		}

		records, err := s.ListConflicts(ctx, user.ID, 2)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "sad", records[0].Dominant)
		assert.Equal(t, "fearful", records[1].Dominant)
		assert.NotEmpty(t, records[1].ID)
		assert.Equal(t, "happy", records[1].Observation[emotion.ChannelFacial])

		all, err := s.ListConflicts(ctx, user.ID, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runHistoryStoreContract(t, func(t *testing.T) HistoryStore { return NewMemoryStore() })
}

func TestMemoryStoreUnknownUserAppend(t *testing.T) {
	s := NewMemoryStore()
	err := s.AppendTurn(context.Background(), "missing", chat.Turn{ID: "t1"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	user, err := s.CreateUser(ctx, chat.UserProfile{Name: "Gil"})
	require.NoError(t, err)

	obs := emotion.Observation{emotion.ChannelText: "sad"}
	require.NoError(t, s.AppendTurn(ctx, user.ID, chat.Turn{ID: "t", Emotions: obs, Timestamp: time.Now()}))
	obs[emotion.ChannelText] = "happy"

	turns, err := s.ListRecentTurns(ctx, user.ID, 1)
	require.NoError(t, err)
	turns[0].Emotions[emotion.ChannelText] = "angry"

	again, err := s.ListRecentTurns(ctx, user.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "sad", again[0].Emotions[emotion.ChannelText])
}

func TestCreateUserRequiresName(t *testing.T) {
	_, err := NewMemoryStore().CreateUser(context.Background(), chat.UserProfile{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidUser)
}
