package game_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itzluthfi/tower-defense/internal/events"
	"github.com/itzluthfi/tower-defense/internal/game"
	"github.com/itzluthfi/tower-defense/internal/store"
)

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// TestEngine_EndToEnd 完整流程：註冊、登入、建房、加入、摧毀基地、結算
func TestEngine_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.player("alice")
	assert.Equal(t, 1, alice.peer.Count("dashboardData"), "登入後應該收到 dashboard")

	code := alice.createRoom("attacker")
	assert.Regexp(t, roomCodePattern, code)

	created := alice.last("roomCreated")
	assert.Equal(t, "attacker", created["role"])
	assert.Equal(t, float64(alice.identity), created["playerId"])
	data := created["data"].(map[string]any)
	assert.Equal(t, "waiting", data["gameStatus"])
	assert.Equal(t, float64(1000), data["attackerGold"])
	assert.Equal(t, float64(100), data["baseHP"])

	bob := h.player("bob")
	bob.send(map[string]any{"type": "joinRoom", "roomCode": code})

	joined := bob.last("roomJoined")
	assert.Equal(t, "defender", joined["role"])
	assert.Equal(t, code, joined["roomCode"])

	notice := alice.last("playerJoined")
	assert.Equal(t, "bob", notice["playerName"])
	assert.Equal(t, "defender", notice["role"])

	for _, c := range []*client{alice, bob} {
		require.Equal(t, 1, c.peer.Count("gameStarted"))
		started := c.last("gameStarted")
		assert.Equal(t, "alice", started["attackerName"])
		assert.Equal(t, "bob", started["defenderName"])
	}

	snap, err := h.engine.Snapshot(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "playing", snap.GameStatus)
	assert.NotZero(t, snap.GameStartTime)

	alice.send(map[string]any{"type": "baseHit", "baseHP": 0, "damage": 100})

	for _, c := range []*client{alice, bob} {
		require.Equal(t, 1, c.peer.Count("gameOver"))
		over := c.last("gameOver")
		assert.Equal(t, "Attacker", over["winner"])
		assert.Equal(t, "Base Destroyed", over["reason"])
	}

	require.Eventually(t, func() bool {
		stats, err := h.store.GetStats(ctx, alice.identity)
		return err == nil && stats.Trophies == 10
	}, waitTimeout, tick)

	aliceStats, err := h.store.GetStats(ctx, alice.identity)
	require.NoError(t, err)
	assert.Equal(t, 1, aliceStats.Wins)
	assert.Equal(t, 1, aliceStats.MatchesPlayed)

	bobStats, err := h.store.GetStats(ctx, bob.identity)
	require.NoError(t, err)
	assert.Equal(t, 1, bobStats.Losses)
	assert.Equal(t, 0, bobStats.Trophies)
	assert.Equal(t, 1, bobStats.MatchesPlayed)

	matchID := h.matchID(code)
	require.Eventually(t, func() bool {
		rec, ok := h.store.Match(matchID)
		return ok && rec.Status == store.StatusFinished
	}, waitTimeout, tick)
	rec, _ := h.store.Match(matchID)
	assert.Equal(t, alice.identity, rec.WinnerID)
	assert.Equal(t, bob.identity, rec.LoserID)
	assert.Equal(t, "Base Destroyed", rec.Reason)
	assert.Equal(t, 0, rec.BaseHPFinal)

	// 排行榜推送給所有已登入的連線
	update := alice.waitFor("leaderboardUpdate")
	board := update["leaderboard"].([]any)
	require.Len(t, board, 2)
	assert.Equal(t, "alice", board[0].(map[string]any)["username"])
	bob.waitFor("leaderboardUpdate")

	h.roomGone(code)
}

// TestEngine_AuthRequired 未登入的連線不能執行需要身份的操作
func TestEngine_AuthRequired(t *testing.T) {
	tests := []struct {
		name string
		msg  map[string]any
	}{
		{name: "createRoom", msg: map[string]any{"type": "createRoom", "role": "attacker"}},
		{name: "joinRoom", msg: map[string]any{"type": "joinRoom", "roomCode": "ABC123"}},
		{name: "rejoinRoom", msg: map[string]any{"type": "rejoinRoom", "roomCode": "ABC123"}},
		{name: "getDashboard", msg: map[string]any{"type": "getDashboard"}},
		{name: "getAvailableMatches", msg: map[string]any{"type": "getAvailableMatches"}},
		{name: "leaveMatch", msg: map[string]any{"type": "leaveMatch"}},
		{name: "baseHit", msg: map[string]any{"type": "baseHit", "baseHP": 0}},
		{name: "chat", msg: map[string]any{"type": "chat", "message": "hi"}},
	}

	h := newHarness(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := h.connect()
			c.send(tt.msg)
			require.Equal(t, 1, c.peer.Count("error"))
			assert.Equal(t, "Authentication required.", c.lastError())
		})
	}
}

// TestEngine_Authentication 註冊與登入的錯誤訊息
func TestEngine_Authentication(t *testing.T) {
	h := newHarness(t)
	h.player("alice")

	tests := []struct {
		name     string
		msg      map[string]any
		expected string
	}{
		{
			name:     "duplicate username",
			msg:      map[string]any{"type": "register", "username": "alice", "password": "x"},
			expected: "Username already taken",
		},
		{
			name:     "duplicate username ignores case",
			msg:      map[string]any{"type": "register", "username": "ALICE", "password": "x"},
			expected: "Username already taken",
		},
		{
			name:     "unknown user",
			msg:      map[string]any{"type": "login", "username": "nobody", "password": "x"},
			expected: "User not found",
		},
		{
			name:     "wrong password",
			msg:      map[string]any{"type": "login", "username": "alice", "password": "wrong"},
			expected: "Invalid password",
		},
		{
			name:     "missing password",
			msg:      map[string]any{"type": "login", "username": "alice"},
			expected: "Username and password are required",
		},
		{
			name:     "reauth unknown identity",
			msg:      map[string]any{"type": "reauth", "identityId": 999},
			expected: "Session invalid or user deleted.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := h.connect()
			c.send(tt.msg)
			require.Equal(t, 1, c.peer.Count("authError"), "實際收到 %v", c.peer.Types())
			assert.Equal(t, tt.expected, c.last("authError")["message"])
			assert.Zero(t, c.peer.Count("loginSuccess"))
		})
	}
}

// TestEngine_RegisterStoreFailure 資料庫寫入失敗
func TestEngine_RegisterStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.FailNext(assert.AnError)

	c := h.connect()
	c.send(map[string]any{"type": "register", "username": "carol", "password": "pw"})

	assert.Equal(t, "Server database error during registration.", c.last("authError")["message"])
}

// TestEngine_ReauthWithoutMatch 沒有進行中的對局時只恢復身份
func TestEngine_ReauthWithoutMatch(t *testing.T) {
	h := newHarness(t)
	alice := h.player("alice")

	// 舊欄位名 id 也接受
	c := h.connect()
	c.send(map[string]any{"type": "reauth", "id": alice.identity})

	success := c.last("reauthSuccess")
	assert.NotContains(t, success, "roomCode")

	code := c.createRoom("defender")
	assert.Regexp(t, roomCodePattern, code)
}

// TestEngine_MalformedMessage 無法解析的訊息被丟棄，連線繼續可用
func TestEngine_MalformedMessage(t *testing.T) {
	h := newHarness(t)
	alice := h.player("alice")

	alice.raw(`{not json`)
	alice.raw(`{"roomCode":"ABC123"}`)
	alice.raw(`{"type":"unknownType"}`)
	alice.raw(`{"type":"baseHit","baseHP":"lots"}`)

	assert.Zero(t, alice.peer.Count("error"))

	code := alice.createRoom("attacker")
	assert.Regexp(t, roomCodePattern, code)
}

// TestEngine_Events 對局生命週期事件依序發布
func TestEngine_Events(t *testing.T) {
	h := newHarness(t)
	alice, bob, code := h.startMatch()
	bob.send(map[string]any{"type": "leaveMatch"})
	alice.waitFor("gameOver")

	require.Eventually(t, func() bool {
		_, ok := h.publisher.Find(events.MatchFinished, code)
		return ok
	}, waitTimeout, tick)

	var types []string
	for _, e := range h.publisher.Events() {
		if e.RoomCode == code {
			types = append(types, e.Type)
		}
	}
	assert.Equal(t, []string{events.MatchCreated, events.MatchStarted, events.MatchFinished}, types)

	finished, _ := h.publisher.Find(events.MatchFinished, code)
	assert.Equal(t, "Attacker", finished.Winner)
	assert.Equal(t, game.ReasonForfeit, finished.Reason)
	assert.Equal(t, alice.identity, finished.AttackerID)
	assert.Equal(t, bob.identity, finished.DefenderID)
}

// TestEngine_Stats 統計與停止
func TestEngine_Stats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.connect()
	alice := h.player("alice")
	alice.createRoom("attacker")

	stats, err := h.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Connections)
	assert.Equal(t, 1, stats.Authenticated)
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 1, stats.Waiting)

	ids, err := h.engine.LiveMatchIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	h.engine.Stop()
	h.engine.Stop()

	_, err = h.engine.Stats(ctx)
	assert.ErrorIs(t, err, game.ErrEngineStopped)
}

// TestEngine_StatsContextCancelled 呼叫端放棄等待
func TestEngine_StatsContextCancelled(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.Stats(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	// 引擎不受影響
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	_, err = h.engine.Stats(ctx2)
	assert.NoError(t, err)
}
