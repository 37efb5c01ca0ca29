package game

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// 36^6 ≈ 21 億，實際上幾乎不會重試
	maxCodeAttempts = 100
)

// Registry 房間表：code → Room
//
// 只在事件迴圈中存取，不需要鎖。
type Registry struct {
	rooms map[string]*Room
}

// NewRegistry 創建房間表
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Create 以一個未使用的代碼創建房間並登記
func (r *Registry) Create(gold, baseHP int) (*Room, error) {
	for range maxCodeAttempts {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}
		if _, exists := r.rooms[code]; exists {
			continue
		}
		room := NewRoom(code, gold, baseHP)
		r.rooms[code] = room
		return room, nil
	}
	return nil, fmt.Errorf("無法生成唯一的房間代碼（已嘗試 %d 次）", maxCodeAttempts)
}

// Get 查詢房間
func (r *Registry) Get(code string) (*Room, bool) {
	room, ok := r.rooms[code]
	return room, ok
}

// Delete 刪除房間；只有 room 仍是該代碼目前的房間時才刪除
func (r *Registry) Delete(room *Room) bool {
	if current, ok := r.rooms[room.Code]; !ok || current != room {
		return false
	}
	delete(r.rooms, room.Code)
	return true
}

// Len 房間數
func (r *Registry) Len() int {
	return len(r.rooms)
}

// All 所有房間
func (r *Registry) All() []*Room {
	all := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		all = append(all, room)
	}
	return all
}

// FindSeat 返回身份佔有座位的未結束房間
func (r *Registry) FindSeat(identityID int64) (*Room, bool) {
	for _, room := range r.rooms {
		if room.Status == StatusFinished {
			continue
		}
		if _, ok := room.SeatOf(identityID); ok {
			return room, true
		}
	}
	return nil, false
}

// LiveMatchIDs 返回記憶體中所有房間的 MatchID
func (r *Registry) LiveMatchIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.rooms))
	for _, room := range r.rooms {
		ids = append(ids, room.MatchID)
	}
	return ids
}

// generateCode 生成 6 碼大寫英數代碼
func generateCode() (string, error) {
	alphabetSize := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("生成房間代碼失敗: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
