// Package events 發布對局生命週期事件到 NATS JetStream。
//
// Subject：<prefix>.<room_code>，同一房間的事件依發布順序保存。
// 下游（戰績分析、回放）訂閱 <prefix>.* 即可取得所有對局。
//
// 事件是旁路輸出：發布失敗只記錄日誌，不影響對局。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// 事件類型
const (
	MatchCreated   = "MatchCreated"
	MatchStarted   = "MatchStarted"
	MatchFinished  = "MatchFinished"
	MatchAbandoned = "MatchAbandoned"
)

// Event 對局事件
type Event struct {
	Type       string    `json:"type"`
	MatchID    uuid.UUID `json:"match_id"`
	RoomCode   string    `json:"room_code"`
	AttackerID int64     `json:"attacker_id,omitempty"`
	DefenderID int64     `json:"defender_id,omitempty"`
	Winner     string    `json:"winner,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	BaseHP     int       `json:"base_hp,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher 事件發布者
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Config JetStream 配置
type Config struct {
	StreamName    string
	SubjectPrefix string
	MaxAge        time.Duration // 0 = 永久保存
}

// JetStream 以 NATS JetStream 實作 Publisher
type JetStream struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config Config
}

// NewJetStream 連接 NATS 並確保 Stream 存在
func NewJetStream(natsURL string, config Config) (*JetStream, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("tower-defense"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("創建 JetStream 失敗: %w", err)
	}

	p := &JetStream{
		conn:   conn,
		js:     js,
		config: config,
	}

	if err := p.initStream(); err != nil {
		conn.Close()
		return nil, err
	}

	return p, nil
}

// initStream 建立或更新 Stream
func (p *JetStream) initStream() error {
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:      p.config.StreamName,
		Subjects:  []string{p.config.SubjectPrefix + ".*"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    p.config.MaxAge,
		Discard:   nats.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("創建 Stream 失敗: %w", err)
	}
	return nil
}

// Subject 返回房間的事件 subject
func (p *JetStream) Subject(roomCode string) string {
	return p.config.SubjectPrefix + "." + roomCode
}

// Publish 發布事件並等待 JetStream 確認
func (p *JetStream) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	msg := nats.NewMsg(p.Subject(event.RoomCode))
	msg.Data = data
	// 同一事件重送時 JetStream 依此去重
	msg.Header.Set(nats.MsgIdHdr, event.MatchID.String()+"."+event.Type)

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("發布事件失敗: %w", err)
	}
	return nil
}

// Close 關閉連線
func (p *JetStream) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("關閉 NATS 連線失敗: %w", err)
	}
	return nil
}

// Nop 不發布任何事件（未設定 NATS 時使用）
type Nop struct{}

// Publish 丟棄事件
func (Nop) Publish(context.Context, Event) error { return nil }

// Close 無操作
func (Nop) Close() error { return nil }
