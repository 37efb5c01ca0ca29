package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/itzluthfi/tower-defense/internal/store"
)

// backend 同時實作兩個介面的 store
type backend interface {
	store.AccountStore
	store.MatchStore
}

// runContract 兩種實作共用的行為測試
//
// fresh 每次返回一個空的 store；backdate 將對局建立時間往前移。
func runContract(t *testing.T, fresh func(t *testing.T) backend, backdate func(t *testing.T, s backend, id uuid.UUID, d time.Duration)) {
	t.Run("accounts", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		hasher := store.NewBcryptHasher(bcrypt.MinCost)

		hash, err := hasher.Hash("secret")
		require.NoError(t, err)

		alice, err := s.CreateUser(ctx, "Alice", hash)
		require.NoError(t, err)
		assert.NotZero(t, alice.ID)

		_, err = s.CreateUser(ctx, "alice", hash)
		assert.ErrorIs(t, err, store.ErrUsernameTaken, "名稱不分大小寫")

		found, err := s.FindByUsername(ctx, "ALICE")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, found.ID)
		assert.Equal(t, "Alice", found.Username)

		byID, err := s.FindByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alice", byID.Username)

		_, err = s.FindByID(ctx, alice.ID+100)
		assert.ErrorIs(t, err, store.ErrNotFound)

		user, err := s.VerifyCredentials(ctx, "alice", "secret")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, user.ID)

		_, err = s.VerifyCredentials(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, store.ErrInvalidCredentials)

		_, err = s.VerifyCredentials(ctx, "nobody", "secret")
		assert.ErrorIs(t, err, store.ErrNotFound)

		stats, err := s.GetStats(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, store.Stats{Username: "Alice"}, *stats)
	})

	t.Run("match outcome and leaderboard", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()

		ann := mustUser(t, s, "ann")
		ben := mustUser(t, s, "ben")
		cat := mustUser(t, s, "cat")

		require.NoError(t, s.RecordMatchOutcome(ctx, ann, ben, true))
		require.NoError(t, s.RecordMatchOutcome(ctx, cat, ben, false))
		require.NoError(t, s.RecordMatchOutcome(ctx, ann, cat, true))

		annStats, err := s.GetStats(ctx, ann)
		require.NoError(t, err)
		assert.Equal(t, store.Stats{Username: "ann", Wins: 2, MatchesPlayed: 2, Trophies: 20}, *annStats)

		benStats, err := s.GetStats(ctx, ben)
		require.NoError(t, err)
		assert.Equal(t, store.Stats{Username: "ben", Wins: 1, Losses: 1, MatchesPlayed: 2, Trophies: 10}, *benStats)

		catStats, err := s.GetStats(ctx, cat)
		require.NoError(t, err)
		assert.Equal(t, store.Stats{Username: "cat", Losses: 2, MatchesPlayed: 2}, *catStats)

		board, err := s.GetLeaderboard(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []store.LeaderboardEntry{
			{Username: "ann", Trophies: 20},
			{Username: "ben", Trophies: 10},
		}, board)

		err = s.RecordMatchOutcome(ctx, ann, 9999, true)
		assert.ErrorIs(t, err, store.ErrNotFound)

		// 交易失敗時 ann 的戰績不變
		annStats, err = s.GetStats(ctx, ann)
		require.NoError(t, err)
		assert.Equal(t, 2, annStats.MatchesPlayed)
	})

	t.Run("match lifecycle", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()

		alice := mustUser(t, s, "alice")
		bob := mustUser(t, s, "bob")

		active, err := s.FindActiveForIdentity(ctx, alice)
		require.NoError(t, err)
		assert.Nil(t, active)

		matchID := uuid.New()
		require.NoError(t, s.CreateWaiting(ctx, matchID, "ABC123", store.RoleDefender, alice))

		active, err = s.FindActiveForIdentity(ctx, alice)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, matchID, active.MatchID)
		assert.Equal(t, "ABC123", active.RoomCode)
		assert.Equal(t, store.RoleDefender, active.Role)
		assert.Equal(t, store.StatusWaiting, active.Status)

		open, err := s.ListOpen(ctx, 20)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "alice", open[0].CreatorName)
		assert.Equal(t, store.RoleAttacker, open[0].NeededRole)

		require.NoError(t, s.FillSecondRole(ctx, matchID, store.RoleAttacker, bob))
		assert.ErrorIs(t, s.FillSecondRole(ctx, matchID, store.RoleAttacker, bob), store.ErrNotFound, "只能填入一次")

		active, err = s.FindActiveForIdentity(ctx, bob)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, store.RoleAttacker, active.Role)
		assert.Equal(t, store.StatusPlaying, active.Status)

		open, err = s.ListOpen(ctx, 20)
		require.NoError(t, err)
		assert.Empty(t, open)

		// playing 的記錄不會被 DeleteWaiting 刪除
		require.NoError(t, s.DeleteWaiting(ctx, matchID))

		require.NoError(t, s.Finish(ctx, matchID, store.MatchResult{
			WinnerID:    bob,
			LoserID:     alice,
			Reason:      "Base Destroyed",
			FinalBaseHP: 0,
			DurationSec: 42,
		}))
		assert.ErrorIs(t, s.Finish(ctx, matchID, store.MatchResult{Reason: "Time Limit Reached"}), store.ErrNotFound, "只能結束一次")

		active, err = s.FindActiveForIdentity(ctx, alice)
		require.NoError(t, err)
		assert.Nil(t, active)
	})

	t.Run("delete and abandon", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		alice := mustUser(t, s, "alice")

		waiting := uuid.New()
		require.NoError(t, s.CreateWaiting(ctx, waiting, "AAAAAA", store.RoleAttacker, alice))
		require.NoError(t, s.DeleteWaiting(ctx, waiting))

		active, err := s.FindActiveForIdentity(ctx, alice)
		require.NoError(t, err)
		assert.Nil(t, active)

		abandoned := uuid.New()
		require.NoError(t, s.CreateWaiting(ctx, abandoned, "BBBBBB", store.RoleAttacker, alice))
		require.NoError(t, s.Abandon(ctx, abandoned, "State lost"))
		require.NoError(t, s.Abandon(ctx, abandoned, "State lost"), "重複放棄不是錯誤")

		active, err = s.FindActiveForIdentity(ctx, alice)
		require.NoError(t, err)
		assert.Nil(t, active)
	})

	t.Run("latest active match wins", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		alice := mustUser(t, s, "alice")

		older := uuid.New()
		require.NoError(t, s.CreateWaiting(ctx, older, "OLD000", store.RoleAttacker, alice))
		backdate(t, s, older, time.Minute)

		newer := uuid.New()
		require.NoError(t, s.CreateWaiting(ctx, newer, "NEW000", store.RoleAttacker, alice))

		active, err := s.FindActiveForIdentity(ctx, alice)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, newer, active.MatchID)
	})

	t.Run("sweep stale", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		alice := mustUser(t, s, "alice")

		stale := uuid.New()
		live := uuid.New()
		recent := uuid.New()
		for code, id := range map[string]uuid.UUID{"STALE0": stale, "LIVE00": live, "RECENT": recent} {
			require.NoError(t, s.CreateWaiting(ctx, id, code, store.RoleAttacker, alice))
		}
		backdate(t, s, stale, 3*time.Hour)
		backdate(t, s, live, 3*time.Hour)

		swept, err := s.SweepStale(ctx, time.Now().Add(-2*time.Hour), []uuid.UUID{live}, "Stale")
		require.NoError(t, err)
		assert.EqualValues(t, 1, swept)

		open, err := s.ListOpen(ctx, 20)
		require.NoError(t, err)
		codes := make([]string, 0, len(open))
		for _, o := range open {
			codes = append(codes, o.RoomCode)
		}
		assert.ElementsMatch(t, []string{"LIVE00", "RECENT"}, codes)
	})
}

func mustUser(t *testing.T, s store.AccountStore, username string) int64 {
	t.Helper()
	u, err := s.CreateUser(context.Background(), username, "hash")
	require.NoError(t, err)
	return u.ID
}
