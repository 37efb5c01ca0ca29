// Package ws 將 WebSocket 連線接上遊戲引擎。
//
// 系統設計問題：
//
//	每位玩家一條長連線，伺服器需要主動推送房間事件，
//	同時偵測死連線並限制單一連線的訊息速率。
//
// 設計方案：
//   - Hub 管理所有連線，關閉時一次斷開
//   - 每條連線兩個 goroutine：readPump 讀取並交給引擎，writePump 依序寫出
//   - Ping/Pong 心跳（54s/60s）偵測死連線
//   - 緩衝 channel 非阻塞送出，慢客戶端直接斷線，重連後取得完整快照
//   - 每條連線一個令牌桶限制上行速率
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itzluthfi/tower-defense/internal/game"
	"github.com/itzluthfi/tower-defense/internal/limiter"
	"github.com/itzluthfi/tower-defense/internal/protocol"
	"github.com/itzluthfi/tower-defense/internal/session"
)

// Engine 連線需要的引擎操作
type Engine interface {
	Connect(peer session.Peer) *session.Session
	Disconnect(sessionID string)
	HandleMessage(ctx context.Context, sessionID string, data []byte)
}

// Config WebSocket 配置
type Config struct {
	MaxMessageSize int64         // 單一訊息上限
	SendBuffer     int           // 每條連線的送出緩衝
	RateLimit      int64         // 每秒補充的訊息數
	RateBurst      int64         // 突發上限
	AllowedOrigins []string      // 空 = 全部允許
	PongWait       time.Duration // 讀取期限
	PingPeriod     time.Duration // 必須小於 PongWait
	WriteWait      time.Duration
}

// DefaultConfig 預設配置
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
		RateLimit:      40,
		RateBurst:      80,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
	}
}

// Hub WebSocket 連接中心
//
// 系統設計考量：
//
//  1. 房間成員關係由引擎管理，Hub 只追蹤「有哪些連線」，
//     用於關閉時斷開所有連線與監控。
//
//  2. 並發安全：connections 以 mutex 保護，註冊/註銷只在連線建立與結束時發生。
//
//  3. 生命週期：Hub 持有一個 context，readPump 以它呼叫引擎；
//     Stop 取消 context 並關閉所有連線。
type Hub struct {
	engine      Engine
	config      Config
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	connections map[*Connection]struct{}
	stopped     bool
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewHub 創建 WebSocket Hub
func NewHub(engine Engine, config Config, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		engine:      engine,
		config:      config,
		logger:      logger,
		connections: make(map[*Connection]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     hub.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return hub
}

// checkOrigin 檢查瀏覽器的 Origin
//
// 沒有 Origin 標頭的非瀏覽器客戶端一律允許。
func (hub *Hub) checkOrigin(r *http.Request) bool {
	if len(hub.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(hub.config.AllowedOrigins, origin)
}

// ServeWS 處理 WebSocket 連接
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if hub.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已回覆錯誤狀態碼
		hub.logger.Warn("升級 WebSocket 失敗",
			"error", err,
			"remote", r.RemoteAddr,
			"origin", r.Header.Get("Origin"))
		return
	}

	c := &Connection{
		conn:    conn,
		send:    make(chan []byte, hub.config.SendBuffer),
		hub:     hub,
		limiter: limiter.NewTokenBucket(hub.config.RateBurst, hub.config.RateLimit),
	}

	// 升級期間 Hub 可能已停止
	if !hub.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(hub.config.WriteWait))
		_ = conn.Close()
		return
	}

	c.session = hub.engine.Connect(c)
	go c.writePump()
	go c.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"session", c.session.ID,
		"remote", r.RemoteAddr)
}

// register 註冊連接並登記讀寫 goroutine，Hub 已停止時返回 false
func (hub *Hub) register(c *Connection) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return false
	}
	hub.connections[c] = struct{}{}
	hub.wg.Add(2)
	return true
}

// unregister 取消註冊連接
func (hub *Hub) unregister(c *Connection) {
	hub.mu.Lock()
	delete(hub.connections, c)
	hub.mu.Unlock()
}

// Count 目前的連線數
func (hub *Hub) Count() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.connections)
}

// Stop 關閉所有連線並等待讀寫 goroutine 結束
func (hub *Hub) Stop() {
	hub.cancel()

	hub.mu.Lock()
	hub.stopped = true
	conns := make([]*Connection, 0, len(hub.connections))
	for c := range hub.connections {
		conns = append(conns, c)
	}
	hub.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	hub.wg.Wait()

	hub.logger.Info("WebSocket Hub 已停止", "closed", len(conns))
}

// Connection 一條 WebSocket 連線，實作 session.Peer
type Connection struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	session *session.Session
	limiter *limiter.TokenBucket

	mu     sync.Mutex
	closed bool
}

var _ session.Peer = (*Connection)(nil)

// Send 非阻塞送出
//
// 緩衝區滿代表客戶端跟不上，直接斷線；重連後會收到完整快照。
func (c *Connection) Send(msg []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- msg:
		c.mu.Unlock()
		return true
	default:
	}
	c.mu.Unlock()

	c.hub.logger.Warn("連接緩衝區滿，關閉連線",
		"session", c.session.ID,
		"buffer", cap(c.send))
	c.Close()
	return false
}

// Close 關閉送出通道，writePump 送出關閉幀後斷開連線
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump 讀取客戶端訊息並交給引擎
//
// 60 秒內沒有收到任何訊息（包括 Pong）就關閉連線。
// 引擎處理完一個訊息才讀取下一個，單一連線的訊息依序處理。
func (c *Connection) readPump() {
	defer func() {
		c.hub.engine.Disconnect(c.session.ID)
		c.hub.unregister(c)
		c.Close()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	cfg := c.hub.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn("WebSocket 讀取錯誤",
					"error", err,
					"session", c.session.ID)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if !c.limiter.Allow() {
			text, _ := game.ClientMessage(game.ErrRateLimited)
			c.Send(protocol.MustEncode(protocol.TypeError, protocol.ErrorMessage{Message: text}))
			c.hub.logger.Debug("超過速率限制", "session", c.session.ID)
			continue
		}

		c.hub.engine.HandleMessage(c.hub.ctx, c.session.ID, message)
	}
}

// writePump 將送出緩衝寫到連線，並定期送出 Ping
func (c *Connection) writePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// 通道已關閉，嘗試送出關閉幀（連線可能已斷開）
				if err := c.conn.SetWriteDeadline(time.Now().Add(time.Second)); err == nil {
					_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("發送訊息失敗", "session", c.session.ID, "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
