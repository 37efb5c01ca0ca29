package game_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itzluthfi/tower-defense/internal/events"
	"github.com/itzluthfi/tower-defense/internal/game"
	"github.com/itzluthfi/tower-defense/internal/store"
)

// TestEngine_CreateRoom 建房的各種情況
func TestEngine_CreateRoom(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness) *client
		msg      map[string]any
		validate func(t *testing.T, c *client)
	}{
		{
			name:  "attacker",
			setup: func(h *harness) *client { return h.player("alice") },
			msg:   map[string]any{"type": "createRoom", "role": "attacker"},
			validate: func(t *testing.T, c *client) {
				created := c.last("roomCreated")
				assert.Equal(t, "attacker", created["role"])
				data := created["data"].(map[string]any)
				assert.NotNil(t, data["attacker"])
				assert.Nil(t, data["defender"])
			},
		},
		{
			name:  "defender",
			setup: func(h *harness) *client { return h.player("alice") },
			msg:   map[string]any{"type": "createRoom", "role": "defender"},
			validate: func(t *testing.T, c *client) {
				created := c.last("roomCreated")
				assert.Equal(t, "defender", created["role"])
			},
		},
		{
			name:  "invalid role",
			setup: func(h *harness) *client { return h.player("alice") },
			msg:   map[string]any{"type": "createRoom", "role": "spectator"},
			validate: func(t *testing.T, c *client) {
				assert.Zero(t, c.peer.Count("roomCreated"))
				assert.Equal(t, "Invalid role.", c.lastError())
			},
		},
		{
			name: "already in a room",
			setup: func(h *harness) *client {
				c := h.player("alice")
				c.createRoom("attacker")
				return c
			},
			msg: map[string]any{"type": "createRoom", "role": "defender"},
			validate: func(t *testing.T, c *client) {
				assert.Equal(t, 1, c.peer.Count("roomCreated"))
				assert.Equal(t, "Already in a room.", c.lastError())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			c := tt.setup(h)
			c.send(tt.msg)
			tt.validate(t, c)
		})
	}
}

// TestEngine_JoinRoom 加入房間的錯誤情況
func TestEngine_JoinRoom(t *testing.T) {
	t.Run("unknown code", func(t *testing.T) {
		h := newHarness(t)
		bob := h.player("bob")
		bob.send(map[string]any{"type": "joinRoom", "roomCode": "NOPE00"})
		assert.Equal(t, "Room invalid.", bob.lastError())
	})

	t.Run("empty code", func(t *testing.T) {
		h := newHarness(t)
		bob := h.player("bob")
		bob.send(map[string]any{"type": "joinRoom", "roomCode": "  "})
		assert.Equal(t, "Room invalid.", bob.lastError())
	})

	t.Run("code is case insensitive", func(t *testing.T) {
		h := newHarness(t)
		alice := h.player("alice")
		code := alice.createRoom("defender")

		bob := h.player("bob")
		bob.send(map[string]any{"type": "joinRoom", "roomCode": " " + strings.ToLower(code) + " "})

		joined := bob.last("roomJoined")
		assert.Equal(t, code, joined["roomCode"])
		assert.Equal(t, "attacker", joined["role"], "應該取得空出的角色")
		assert.Equal(t, 1, alice.peer.Count("gameStarted"))
	})

	t.Run("room full", func(t *testing.T) {
		h := newHarness(t)
		_, _, code := h.startMatch()

		carol := h.player("carol")
		carol.send(map[string]any{"type": "joinRoom", "roomCode": code})
		assert.Equal(t, "Room full.", carol.lastError())
	})

	t.Run("own room", func(t *testing.T) {
		h := newHarness(t)
		alice := h.player("alice")
		code := alice.createRoom("attacker")

		alice.send(map[string]any{"type": "joinRoom", "roomCode": code})
		assert.Equal(t, "Already in a room.", alice.lastError())
	})

	t.Run("same identity on another connection", func(t *testing.T) {
		h := newHarness(t)
		alice := h.player("alice")
		code := alice.createRoom("attacker")

		second := h.connect()
		second.send(map[string]any{"type": "login", "username": "alice", "password": "pw-alice"})
		second.send(map[string]any{"type": "joinRoom", "roomCode": code})
		assert.Equal(t, "Already in a room.", second.lastError())
	})
}

// TestEngine_GameStartedOnce 第二位玩家加入時只開始一次
func TestEngine_GameStartedOnce(t *testing.T) {
	h := newHarness(t)
	alice, bob, code := h.startMatch()

	carol := h.player("carol")
	carol.send(map[string]any{"type": "joinRoom", "roomCode": code})
	bob.send(map[string]any{"type": "joinRoom", "roomCode": code})

	assert.Equal(t, 1, alice.peer.Count("gameStarted"))
	assert.Equal(t, 1, bob.peer.Count("gameStarted"))
	assert.Zero(t, carol.peer.Count("gameStarted"))

	matchID := h.matchID(code)
	require.Eventually(t, func() bool {
		rec, ok := h.store.Match(matchID)
		return ok && rec.Status == store.StatusPlaying
	}, waitTimeout, tick)
	assert.EqualValues(t, 1, h.store.FillCalls.Load())

	rec, _ := h.store.Match(matchID)
	assert.Equal(t, alice.identity, rec.AttackerID)
	assert.Equal(t, bob.identity, rec.DefenderID)
}

// TestEngine_LeaveWaiting 等待中離開：房間與等待記錄都被刪除
func TestEngine_LeaveWaiting(t *testing.T) {
	tests := []struct {
		name  string
		leave func(c *client)
	}{
		{name: "leaveMatch", leave: func(c *client) { c.send(map[string]any{"type": "leaveMatch"}) }},
		{name: "disconnect", leave: func(c *client) { c.disconnect() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			alice := h.player("alice")
			code := alice.createRoom("attacker")
			matchID := h.matchID(code)

			tt.leave(alice)
			h.roomGone(code)

			require.Eventually(t, func() bool {
				_, ok := h.store.Match(matchID)
				return !ok
			}, waitTimeout, tick, "等待記錄應該被刪除")

			var abandoned events.Event
			require.Eventually(t, func() bool {
				e, ok := h.publisher.Find(events.MatchAbandoned, code)
				abandoned = e
				return ok
			}, waitTimeout, tick)
			assert.Equal(t, "Cancelled", abandoned.Reason)

			bob := h.player("bob")
			bob.send(map[string]any{"type": "joinRoom", "roomCode": code})
			assert.Equal(t, "Room invalid.", bob.lastError())
		})
	}
}

// TestEngine_LeaveThenCreate 離開後可以再建房
func TestEngine_LeaveThenCreate(t *testing.T) {
	h := newHarness(t)
	alice := h.player("alice")
	first := alice.createRoom("attacker")
	alice.send(map[string]any{"type": "leaveMatch"})

	second := alice.createRoom("defender")
	assert.NotEqual(t, first, second)
	assert.Zero(t, alice.peer.Count("error"))
}

// TestEngine_LeaveWithoutRoom 不在房間時 leaveMatch 被忽略
func TestEngine_LeaveWithoutRoom(t *testing.T) {
	h := newHarness(t)
	alice := h.player("alice")
	alice.send(map[string]any{"type": "leaveMatch"})
	assert.Zero(t, alice.peer.Count("error"))
}

// TestEngine_AvailableMatches 等待中的房間列表
func TestEngine_AvailableMatches(t *testing.T) {
	h := newHarness(t)
	alice := h.player("alice")
	aliceCode := alice.createRoom("attacker")
	carol := h.player("carol")
	carolCode := carol.createRoom("defender")

	bob := h.player("bob")
	require.Eventually(t, func() bool {
		open, err := h.engine.OpenMatches(context.Background())
		return err == nil && len(open) == 2
	}, waitTimeout, tick)

	bob.send(map[string]any{"type": "getAvailableMatches"})
	matches := bob.last("availableMatches")["matches"].([]any)
	require.Len(t, matches, 2)

	newest := matches[0].(map[string]any)
	assert.Equal(t, carolCode, newest["room_code"])
	assert.Equal(t, "carol", newest["creator_name"])
	assert.Equal(t, "attacker", newest["needed_role"])

	oldest := matches[1].(map[string]any)
	assert.Equal(t, aliceCode, oldest["room_code"])
	assert.Equal(t, "defender", oldest["needed_role"])

	// 開始後不再列出
	bob.send(map[string]any{"type": "joinRoom", "roomCode": aliceCode})
	require.Eventually(t, func() bool {
		open, err := h.engine.OpenMatches(context.Background())
		return err == nil && len(open) == 1
	}, waitTimeout, tick)
}

// TestEngine_Dashboard 戰績與排行榜
func TestEngine_Dashboard(t *testing.T) {
	h := newHarness(t)
	alice := h.player("alice")
	alice.send(map[string]any{"type": "getDashboard"})

	require.Equal(t, 2, alice.peer.Count("dashboardData"))
	dashboard := alice.last("dashboardData")
	stats := dashboard["stats"].(map[string]any)
	assert.Equal(t, "alice", stats["username"])
	assert.Equal(t, float64(0), stats["trophies"])
	assert.Equal(t, float64(0), stats["matches_played"])
	assert.Len(t, dashboard["leaderboard"], 1)
}

// TestEngine_FinishedRoomUnbindsImplicitly 已結束房間的綁定不阻擋建新房
func TestEngine_FinishedRoomUnbindsImplicitly(t *testing.T) {
	h := newHarness(t, func(c *game.Config) {
		c.LingerDuration = waitTimeout * 10
	})
	alice, bob, _ := h.startMatch()
	alice.send(map[string]any{"type": "baseHit", "baseHP": 0})
	require.Equal(t, 1, bob.peer.Count("gameOver"))

	// 房間仍在 linger 中
	code := bob.createRoom("attacker")
	assert.Regexp(t, roomCodePattern, code)
	code2 := alice.createRoom("attacker")
	assert.NotEqual(t, code, code2)
}
