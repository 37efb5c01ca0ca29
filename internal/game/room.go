package game

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/itzluthfi/tower-defense/internal/protocol"
)

// Status 房間狀態
//
// 有限狀態機：
//
//	waiting → playing → finished → (刪除)
//
// 狀態轉換規則：
//   - waiting → playing：兩個角色同時有人（只發生一次）
//   - playing → finished：基地被摧毀 / 時間到 / 投降 / 斷線逾時（只發生一次）
//   - waiting 房間在最後一人離開時直接刪除，不經過 finished
type Status string

const (
	StatusWaiting  Status = "waiting"  // 等待第二位玩家
	StatusPlaying  Status = "playing"  // 對局進行中
	StatusFinished Status = "finished" // 對局結束，等待刪除
)

// Seat 一個角色的座位
type Seat struct {
	IdentityID     int64
	Name           string
	Connected      bool
	DisconnectedAt time.Time
	SessionID      string // 目前佔用此座位的連線
}

// Room 一場對局的權威狀態
//
// 系統設計考量：
//
//  1. 並發控制：
//     Room 只在引擎的事件迴圈中讀寫，沒有鎖。
//     需要等待 I/O 的操作（資料庫查詢）回到迴圈後必須重新檢查房間狀態。
//
//  2. 房間代碼回收：
//     代碼在房間刪除後可以重用，MatchID 才是持久化記錄的主鍵，
//     計時器與寫入任務都以 *Room 指標或 MatchID 比對，避免作用到新房間。
//
//  3. 經濟數值：
//     金幣與基地血量由客戶端回報，經過 EconomyPolicy 後直接覆寫。
type Room struct {
	Code     string
	MatchID  uuid.UUID
	Attacker *Seat
	Defender *Seat

	AttackerGold int
	DefenderGold int
	BaseHP       int
	Troops       []json.RawMessage
	Towers       []json.RawMessage

	Status     Status
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Deadline   time.Time // 對局計時器到期時間
}

// NewRoom 創建等待中的房間
func NewRoom(code string, gold, baseHP int) *Room {
	return &Room{
		Code:         code,
		MatchID:      uuid.New(),
		AttackerGold: gold,
		DefenderGold: gold,
		BaseHP:       baseHP,
		Troops:       []json.RawMessage{},
		Towers:       []json.RawMessage{},
		Status:       StatusWaiting,
		CreatedAt:    time.Now(),
	}
}

// Seat 返回角色的座位（可能為 nil）
func (r *Room) Seat(role protocol.Role) *Seat {
	switch role {
	case protocol.RoleAttacker:
		return r.Attacker
	case protocol.RoleDefender:
		return r.Defender
	}
	return nil
}

// SetSeat 設定角色的座位，nil = 空出
func (r *Room) SetSeat(role protocol.Role, seat *Seat) {
	switch role {
	case protocol.RoleAttacker:
		r.Attacker = seat
	case protocol.RoleDefender:
		r.Defender = seat
	}
}

// SeatOf 返回身份所在的角色
func (r *Room) SeatOf(identityID int64) (protocol.Role, bool) {
	if r.Attacker != nil && r.Attacker.IdentityID == identityID {
		return protocol.RoleAttacker, true
	}
	if r.Defender != nil && r.Defender.IdentityID == identityID {
		return protocol.RoleDefender, true
	}
	return "", false
}

// Vacancy 恰好一個座位有人時返回空出的角色
func (r *Room) Vacancy() (protocol.Role, bool) {
	switch {
	case r.Attacker != nil && r.Defender == nil:
		return protocol.RoleDefender, true
	case r.Attacker == nil && r.Defender != nil:
		return protocol.RoleAttacker, true
	}
	return "", false
}

// Full 兩個座位都有人
func (r *Room) Full() bool {
	return r.Attacker != nil && r.Defender != nil
}

// Empty 沒有任何座位有人
func (r *Room) Empty() bool {
	return r.Attacker == nil && r.Defender == nil
}

// SetGold 覆寫角色的金幣
func (r *Room) SetGold(role protocol.Role, gold int) {
	if role == protocol.RoleAttacker {
		r.AttackerGold = gold
		return
	}
	r.DefenderGold = gold
}

// Duration 對局進行時間
func (r *Room) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	end := r.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.StartedAt)
}

// Snapshot 返回房間完整狀態的副本
//
// 切片會被複製，之後對房間的修改不影響已送出的快照。
func (r *Room) Snapshot(now time.Time) *protocol.RoomSnapshot {
	snap := &protocol.RoomSnapshot{
		Attacker:     seatSnapshot(r.Attacker),
		Defender:     seatSnapshot(r.Defender),
		AttackerGold: r.AttackerGold,
		DefenderGold: r.DefenderGold,
		BaseHP:       r.BaseHP,
		Troops:       slices.Clone(r.Troops),
		Towers:       slices.Clone(r.Towers),
		GameStatus:   string(r.Status),
	}
	if !r.StartedAt.IsZero() {
		snap.GameStartTime = r.StartedAt.UnixMilli()
	}
	if r.Status == StatusPlaying && !r.Deadline.IsZero() {
		remaining := max(0, int(r.Deadline.Sub(now).Round(time.Second)/time.Second))
		snap.RemainingSec = &remaining
	}
	return snap
}

func seatSnapshot(seat *Seat) *protocol.SeatSnapshot {
	if seat == nil {
		return nil
	}
	return &protocol.SeatSnapshot{
		ID:        seat.IdentityID,
		Name:      seat.Name,
		Connected: seat.Connected,
	}
}
