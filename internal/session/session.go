// Package session 追蹤每條連線的身份與所在房間。
//
// Session 的欄位只在遊戲引擎的事件迴圈中讀寫。Store 的 map 以 RWMutex 保護，
// 連線建立與關閉可以在任何 goroutine 進行；InRoom、ByIdentity、Count
// 會讀取 Session 欄位，只能在事件迴圈中呼叫。
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itzluthfi/tower-defense/internal/protocol"
)

// Peer 一條可以送出訊息的連線
//
// WebSocket 連線與測試用的假連線都實作此介面。
type Peer interface {
	// Send 非阻塞送出，緩衝區滿或連線已關閉時返回 false
	Send(msg []byte) bool
	// Close 關閉連線，可重複呼叫
	Close()
}

// Identity 已驗證的帳號
type Identity struct {
	ID       int64
	Username string
}

// Session 一條連線的狀態
type Session struct {
	ID          string
	Peer        Peer
	Identity    *Identity // nil = 尚未登入
	RoomCode    string    // 空 = 不在房間
	Role        protocol.Role
	ConnectedAt time.Time
}

// Authenticated 是否已登入
func (s *Session) Authenticated() bool {
	return s.Identity != nil
}

// Bind 綁定房間
func (s *Session) Bind(code string, role protocol.Role) {
	s.RoomCode = code
	s.Role = role
}

// Unbind 解除房間綁定
func (s *Session) Unbind() {
	s.RoomCode = ""
	s.Role = ""
}

// Store 連線表
type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewStore 創建連線表
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// Add 登記新連線
func (st *Store) Add(peer Peer) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Peer:        peer,
		ConnectedAt: time.Now(),
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	return s
}

// Get 查詢連線
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Remove 移除連線
func (st *Store) Remove(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// All 返回所有連線的快照
func (st *Store) All() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	return all
}

// InRoom 返回綁定到指定房間的連線
func (st *Store) InRoom(code string) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var result []*Session
	for _, s := range st.sessions {
		if s.RoomCode == code {
			result = append(result, s)
		}
	}
	return result
}

// ByIdentity 返回屬於同一帳號的連線
func (st *Store) ByIdentity(identityID int64) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var result []*Session
	for _, s := range st.sessions {
		if s.Identity != nil && s.Identity.ID == identityID {
			result = append(result, s)
		}
	}
	return result
}

// Count 返回連線數與已登入數
func (st *Store) Count() (total, authenticated int) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, s := range st.sessions {
		total++
		if s.Identity != nil {
			authenticated++
		}
	}
	return total, authenticated
}
