package game_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/itzluthfi/tower-defense/internal/events"
	"github.com/itzluthfi/tower-defense/internal/game"
	"github.com/itzluthfi/tower-defense/internal/store"
)

const (
	waitTimeout = 3 * time.Second
	tick        = 10 * time.Millisecond
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// fakePeer 記錄收到的所有訊息
type fakePeer struct {
	mu     sync.Mutex
	msgs   []map[string]any
	closed bool
}

func (p *fakePeer) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		panic(err)
	}
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Messages 返回指定類型的訊息
func (p *fakePeer) Messages(msgType string) []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result []map[string]any
	for _, msg := range p.msgs {
		if msg["type"] == msgType {
			result = append(result, msg)
		}
	}
	return result
}

// Count 指定類型的訊息數量
func (p *fakePeer) Count(msgType string) int {
	return len(p.Messages(msgType))
}

// Types 依序返回所有訊息類型
func (p *fakePeer) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, 0, len(p.msgs))
	for _, msg := range p.msgs {
		types = append(types, msg["type"].(string))
	}
	return types
}

// recordingPublisher 記錄發布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

// Find 返回房間的第一個指定類型事件
func (p *recordingPublisher) Find(eventType, roomCode string) (events.Event, bool) {
	for _, e := range p.Events() {
		if e.Type == eventType && e.RoomCode == roomCode {
			return e, true
		}
	}
	return events.Event{}, false
}

type harness struct {
	t         *testing.T
	engine    *game.Engine
	store     *store.Memory
	publisher *recordingPublisher
	config    game.Config
}

// testConfig 縮短所有計時器
func testConfig() game.Config {
	cfg := game.DefaultConfig()
	cfg.GracePeriod = 300 * time.Millisecond
	cfg.GameDuration = 10 * time.Second
	cfg.LingerDuration = 100 * time.Millisecond
	cfg.QueryTimeout = time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*game.Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	hasher := store.NewBcryptHasher(bcrypt.MinCost)
	mem := store.NewMemory(hasher)
	pub := &recordingPublisher{}
	engine := game.New(cfg, mem, mem, hasher, testLogger(), game.WithPublisher(pub))
	t.Cleanup(engine.Stop)

	return &harness{
		t:         t,
		engine:    engine,
		store:     mem,
		publisher: pub,
		config:    cfg,
	}
}

type client struct {
	h        *harness
	peer     *fakePeer
	id       string
	identity int64
	name     string
}

// connect 建立新連線
func (h *harness) connect() *client {
	peer := &fakePeer{}
	s := h.engine.Connect(peer)
	return &client{h: h, peer: peer, id: s.ID}
}

// player 建立連線並完成註冊與登入
func (h *harness) player(username string) *client {
	h.t.Helper()

	c := h.connect()
	c.send(map[string]any{"type": "register", "username": username, "password": "pw-" + username})
	require.Equal(h.t, 1, c.peer.Count("registerSuccess"), "註冊應該成功")

	c.send(map[string]any{"type": "login", "username": username, "password": "pw-" + username})
	login := c.last("loginSuccess")
	c.identity = int64(login["identityId"].(float64))
	c.name = username
	return c
}

// reconnectAs 以新連線 reauth 為 c 的身份
func (h *harness) reconnectAs(c *client) *client {
	n := h.connect()
	n.identity, n.name = c.identity, c.name
	n.send(map[string]any{"type": "reauth", "identityId": c.identity})
	return n
}

func (c *client) send(msg map[string]any) {
	data, err := json.Marshal(msg)
	require.NoError(c.h.t, err)
	c.h.engine.HandleMessage(context.Background(), c.id, data)
}

func (c *client) raw(data string) {
	c.h.engine.HandleMessage(context.Background(), c.id, []byte(data))
}

func (c *client) disconnect() {
	c.h.engine.Disconnect(c.id)
}

// last 返回最後一個指定類型的訊息，必須存在
func (c *client) last(msgType string) map[string]any {
	c.h.t.Helper()
	msgs := c.peer.Messages(msgType)
	require.NotEmpty(c.h.t, msgs, "應該收到 %s，實際收到 %v", msgType, c.peer.Types())
	return msgs[len(msgs)-1]
}

// waitFor 等待收到指定類型的訊息
func (c *client) waitFor(msgType string) map[string]any {
	c.h.t.Helper()
	require.Eventually(c.h.t, func() bool {
		return c.peer.Count(msgType) > 0
	}, waitTimeout, tick, "等待 %s 逾時，實際收到 %v", msgType, c.peer.Types())
	return c.last(msgType)
}

// lastError 最後一個 error 訊息的內容
func (c *client) lastError() string {
	c.h.t.Helper()
	return c.last("error")["message"].(string)
}

// createRoom 創建房間並返回代碼
func (c *client) createRoom(role string) string {
	c.h.t.Helper()
	c.send(map[string]any{"type": "createRoom", "role": role})
	return c.last("roomCreated")["roomCode"].(string)
}

// startMatch 建立 attacker / defender 兩位玩家的對局
func (h *harness) startMatch() (attacker, defender *client, code string) {
	h.t.Helper()

	attacker = h.player("alice")
	defender = h.player("bob")
	code = attacker.createRoom("attacker")
	defender.send(map[string]any{"type": "joinRoom", "roomCode": code})
	require.Equal(h.t, 1, attacker.peer.Count("gameStarted"))
	require.Equal(h.t, 1, defender.peer.Count("gameStarted"))

	// 等待 writer 寫入 playing 記錄，reauth 才查得到
	matchID := h.matchID(code)
	require.Eventually(h.t, func() bool {
		rec, ok := h.store.Match(matchID)
		return ok && rec.Status == store.StatusPlaying
	}, waitTimeout, tick)
	return attacker, defender, code
}

// matchID 從事件取得房間的對局 ID
func (h *harness) matchID(code string) uuid.UUID {
	h.t.Helper()
	var id uuid.UUID
	require.Eventually(h.t, func() bool {
		e, ok := h.publisher.Find(events.MatchCreated, code)
		if ok {
			id = e.MatchID
		}
		return ok
	}, waitTimeout, tick)
	return id
}

// roomGone 等待房間被刪除
func (h *harness) roomGone(code string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		_, err := h.engine.Snapshot(context.Background(), code)
		return err != nil
	}, waitTimeout, tick, "房間 %s 應該被刪除", code)
}
