// Package game 實作對局伺服器的核心：房間生命週期、配對、斷線重連與勝負判定。
//
// 系統設計問題：
//
//	兩位玩家透過各自的 WebSocket 連線操作同一個房間，
//	如何在沒有鎖競爭的情況下維持房間狀態一致，並處理斷線與計時？
//
// 設計方案：
//   - 單一事件迴圈：所有房間狀態的修改都是迴圈上的一個任務
//   - 連線 goroutine 提交任務並等待完成，保證單一連線的訊息順序
//   - 需要等待資料庫的操作在連線 goroutine 上查詢，完成後回到迴圈並重新檢查狀態
//   - 持久化寫入交給單一背景 writer，廣播不等待資料庫
//   - 計時器到期也是送回迴圈的任務
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itzluthfi/tower-defense/internal/events"
	"github.com/itzluthfi/tower-defense/internal/protocol"
	"github.com/itzluthfi/tower-defense/internal/session"
	"github.com/itzluthfi/tower-defense/internal/store"
)

// ErrEngineStopped 引擎已停止
var ErrEngineStopped = errors.New("engine stopped")

// Config 引擎配置
type Config struct {
	GracePeriod      time.Duration // 斷線寬限期
	GameDuration     time.Duration // 對局時限
	LingerDuration   time.Duration // 結束後保留房間的時間
	InitialGold      int
	InitialBaseHP    int
	LeaderboardLimit int
	OpenMatchesLimit int
	QueryTimeout     time.Duration // 連線 goroutine 上的資料庫查詢逾時
	WriteTimeout     time.Duration // 背景寫入逾時
	QueueSize        int           // 事件迴圈與 writer 的緩衝大小
}

// DefaultConfig 預設配置
func DefaultConfig() Config {
	return Config{
		GracePeriod:      60 * time.Second,
		GameDuration:     60 * time.Second,
		LingerDuration:   5 * time.Second,
		InitialGold:      1000,
		InitialBaseHP:    100,
		LeaderboardLimit: 10,
		OpenMatchesLimit: 20,
		QueryTimeout:     5 * time.Second,
		WriteTimeout:     10 * time.Second,
		QueueSize:        1024,
	}
}

// Option 引擎選項
type Option func(*Engine)

// WithPublisher 設定對局事件發布者
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithPolicy 設定經濟數值檢查
func WithPolicy(p EconomyPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// Engine 對局引擎
type Engine struct {
	config    Config
	accounts  store.AccountStore
	matches   store.MatchStore
	hasher    store.Hasher
	publisher events.Publisher
	policy    EconomyPolicy
	logger    *slog.Logger

	// 以下只在事件迴圈中存取（sessions 的 map 本身有鎖）
	sessions *session.Store
	rooms    *Registry
	timers   *Timers

	routes map[string]route
	writer *writer

	tasks    chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New 創建並啟動引擎
func New(config Config, accounts store.AccountStore, matches store.MatchStore, hasher store.Hasher, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		config:    config,
		accounts:  accounts,
		matches:   matches,
		hasher:    hasher,
		publisher: events.Nop{},
		policy:    FloorPolicy{},
		logger:    logger,
		sessions:  session.NewStore(),
		rooms:     NewRegistry(),
		tasks:     make(chan func(), config.QueueSize),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.timers = NewTimers(e.post)
	e.writer = newWriter(config.QueueSize, config.WriteTimeout, logger)
	e.routes = e.buildRoutes()

	// 啟動事件迴圈
	e.wg.Add(1)
	go e.run()

	return e
}

// run 事件迴圈
func (e *Engine) run() {
	defer e.wg.Done()

	for {
		select {
		case task := <-e.tasks:
			e.runTask(task)
		case <-e.stopCh:
			e.timers.Stop()
			return
		}
	}
}

// runTask 執行單一任務，panic 不會中止迴圈
func (e *Engine) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("事件迴圈任務 panic", "panic", r)
		}
	}()
	task()
}

// exec 在事件迴圈中執行 fn 並等待完成
func (e *Engine) exec(fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}

	select {
	case e.tasks <- task:
	case <-e.stopCh:
		return ErrEngineStopped
	}

	select {
	case <-done:
		return nil
	case <-e.stopCh:
		return ErrEngineStopped
	}
}

// post 把 fn 送進事件迴圈，不等待
//
// 不能在事件迴圈內呼叫（佇列滿時會死鎖）。
func (e *Engine) post(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.stopCh:
	}
}

// Stop 停止引擎：停止事件迴圈、取消計時器、寫完剩餘的持久化任務
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
		e.writer.shutdown()
		e.logger.Info("遊戲引擎已停止")
	})
}

// Connect 登記新連線
func (e *Engine) Connect(peer session.Peer) *session.Session {
	s := e.sessions.Add(peer)
	e.logger.Debug("連線已建立", "session", s.ID)
	return s
}

// Disconnect 連線關閉
//
// 對局中：標記斷線、通知對手、啟動寬限期計時器。
// 等待中：空出座位，房間沒人時刪除。
func (e *Engine) Disconnect(sessionID string) {
	err := e.exec(func() {
		s, ok := e.sessions.Get(sessionID)
		if !ok {
			return
		}
		e.sessions.Remove(sessionID)
		e.releaseSeat(s)
	})
	if err != nil {
		e.sessions.Remove(sessionID)
	}
	e.logger.Debug("連線已關閉", "session", sessionID)
}

// HandleMessage 處理一個客戶端訊息幀
//
// 由連線的讀取 goroutine 呼叫，返回時訊息已處理完畢。
func (e *Engine) HandleMessage(ctx context.Context, sessionID string, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		e.logger.Warn("無法解析訊息",
			"session", sessionID,
			"error", err)
		return
	}

	r, ok := e.routes[msg.Type]
	if !ok {
		e.logger.Warn("未知的訊息類型",
			"session", sessionID,
			"type", msg.Type)
		return
	}

	s, ok := e.sessions.Get(sessionID)
	if !ok {
		return
	}

	e.dispatch(ctx, s, r, msg)
}

// Stats 引擎統計
type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	Rooms         int `json:"rooms"`
	Waiting       int `json:"waiting"`
	Playing       int `json:"playing"`
	Finished      int `json:"finished"`
	Timers        int `json:"timers"`
}

// Stats 返回目前的連線與房間統計
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := e.execContext(ctx, func() {
		stats.Connections, stats.Authenticated = e.sessions.Count()
		stats.Rooms = e.rooms.Len()
		for _, room := range e.rooms.All() {
			switch room.Status {
			case StatusWaiting:
				stats.Waiting++
			case StatusPlaying:
				stats.Playing++
			case StatusFinished:
				stats.Finished++
			}
		}
		stats.Timers = e.timers.Len()
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Snapshot 返回房間目前的完整狀態
func (e *Engine) Snapshot(ctx context.Context, code string) (*protocol.RoomSnapshot, error) {
	var snap *protocol.RoomSnapshot
	err := e.execContext(ctx, func() {
		if room, ok := e.rooms.Get(normalizeCode(code)); ok {
			snap = room.Snapshot(time.Now())
		}
	})
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrRoomNotFound
	}
	return snap, nil
}

// LiveMatchIDs 返回記憶體中仍存在的對局 ID（維護任務用來排除進行中的記錄）
func (e *Engine) LiveMatchIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := e.execContext(ctx, func() {
		ids = e.rooms.LiveMatchIDs()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// OpenMatches 返回等待第二位玩家的對局（新的在前）
func (e *Engine) OpenMatches(ctx context.Context) ([]protocol.OpenMatch, error) {
	open, err := e.matches.ListOpen(ctx, e.config.OpenMatchesLimit)
	if err != nil {
		return nil, fmt.Errorf("查詢等待中的對局失敗: %w", err)
	}

	matches := make([]protocol.OpenMatch, 0, len(open))
	for _, m := range open {
		matches = append(matches, protocol.OpenMatch{
			RoomCode:    m.RoomCode,
			CreatorName: m.CreatorName,
			NeededRole:  protocol.Role(m.NeededRole),
			CreatedAt:   m.CreatedAt,
		})
	}
	return matches, nil
}

// Leaderboard 返回排行榜
func (e *Engine) Leaderboard(ctx context.Context) ([]protocol.LeaderboardEntry, error) {
	entries, err := e.accounts.GetLeaderboard(ctx, e.config.LeaderboardLimit)
	if err != nil {
		return nil, fmt.Errorf("查詢排行榜失敗: %w", err)
	}

	board := make([]protocol.LeaderboardEntry, 0, len(entries))
	for _, entry := range entries {
		board = append(board, protocol.LeaderboardEntry{
			Username: entry.Username,
			Trophies: entry.Trophies,
		})
	}
	return board, nil
}

// execContext 與 exec 相同，但呼叫端可以用 ctx 放棄等待
func (e *Engine) execContext(ctx context.Context, fn func()) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.exec(fn)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queryContext 連線 goroutine 上資料庫查詢的 context
func (e *Engine) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.QueryTimeout)
}
