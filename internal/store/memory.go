package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MatchRecord 對局記錄的完整內容
type MatchRecord struct {
	ID          uuid.UUID
	RoomCode    string
	AttackerID  int64 // 0 = 空位
	DefenderID  int64
	WinnerID    int64
	LoserID     int64
	Reason      string
	BaseHPFinal int
	DurationSec int
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type memoryUser struct {
	User
	stats Stats
}

type memoryMatch struct {
	MatchRecord
	seq int64
}

// Memory 記憶體實作，同時滿足 AccountStore 與 MatchStore
//
// 用於測試以及未設定資料庫時的單機模式；重啟後資料消失。
type Memory struct {
	mu      sync.RWMutex
	hasher  Hasher
	users   map[int64]*memoryUser
	byName  map[string]int64
	matches map[uuid.UUID]*memoryMatch
	nextID  int64
	seq     int64

	// 記錄呼叫次數
	CreateWaitingCalls atomic.Int32
	FillCalls          atomic.Int32
	FinishCalls        atomic.Int32
	DeleteCalls        atomic.Int32
	AbandonCalls       atomic.Int32
	OutcomeCalls       atomic.Int32

	// 錯誤注入：下一次寫入返回 failNext
	failMu   sync.Mutex
	failNext error
}

var (
	_ AccountStore = (*Memory)(nil)
	_ MatchStore   = (*Memory)(nil)
)

// NewMemory 創建記憶體 store
func NewMemory(hasher Hasher) *Memory {
	return &Memory{
		hasher:  hasher,
		users:   make(map[int64]*memoryUser),
		byName:  make(map[string]int64),
		matches: make(map[uuid.UUID]*memoryMatch),
	}
}

// FailNext 讓下一次寫入操作返回 err
func (m *Memory) FailNext(err error) {
	m.failMu.Lock()
	m.failNext = err
	m.failMu.Unlock()
}

func (m *Memory) takeFailure() error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	err := m.failNext
	m.failNext = nil
	return err
}

// FindByUsername 依名稱查詢（不分大小寫）
func (m *Memory) FindByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	u := m.users[id].User
	return &u, nil
}

// FindByID 依 ID 查詢
func (m *Memory) FindByID(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u := row.User
	return &u, nil
}

// CreateUser 建立帳號
func (m *Memory) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(username)
	if _, exists := m.byName[key]; exists {
		return nil, ErrUsernameTaken
	}

	m.nextID++
	row := &memoryUser{
		User: User{
			ID:           m.nextID,
			Username:     username,
			PasswordHash: passwordHash,
			CreatedAt:    time.Now(),
		},
		stats: Stats{Username: username},
	}
	m.users[row.ID] = row
	m.byName[key] = row.ID

	u := row.User
	return &u, nil
}

// VerifyCredentials 驗證帳密
func (m *Memory) VerifyCredentials(ctx context.Context, username, password string) (*User, error) {
	return verifyCredentials(ctx, m, m.hasher, username, password)
}

// GetStats 查詢戰績
func (m *Memory) GetStats(ctx context.Context, id int64) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	stats := row.stats
	return &stats, nil
}

// GetLeaderboard 依獎盃數排序，同分時先註冊者在前
func (m *Memory) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	type ranked struct {
		id int64
		LeaderboardEntry
	}

	// 在鎖內複製，戰績可能同時被 RecordMatchOutcome 修改
	m.mu.RLock()
	rows := make([]ranked, 0, len(m.users))
	for _, row := range m.users {
		rows = append(rows, ranked{
			id:               row.ID,
			LeaderboardEntry: LeaderboardEntry{Username: row.Username, Trophies: row.stats.Trophies},
		})
	}
	m.mu.RUnlock()

	slices.SortFunc(rows, func(a, b ranked) int {
		if a.Trophies != b.Trophies {
			return b.Trophies - a.Trophies
		}
		return int(a.id - b.id)
	})

	if len(rows) > limit {
		rows = rows[:limit]
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.LeaderboardEntry)
	}
	return entries, nil
}

// RecordMatchOutcome 更新雙方戰績
func (m *Memory) RecordMatchOutcome(ctx context.Context, attackerID, defenderID int64, attackerWon bool) error {
	m.OutcomeCalls.Add(1)
	if err := m.takeFailure(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	attacker, ok := m.users[attackerID]
	if !ok {
		return ErrNotFound
	}
	defender, ok := m.users[defenderID]
	if !ok {
		return ErrNotFound
	}

	winner, loser := defender, attacker
	if attackerWon {
		winner, loser = attacker, defender
	}
	winner.stats.Wins++
	winner.stats.Trophies += TrophiesPerWin
	loser.stats.Losses++
	attacker.stats.MatchesPlayed++
	defender.stats.MatchesPlayed++

	return nil
}

// CreateWaiting 建立等待中的對局
func (m *Memory) CreateWaiting(ctx context.Context, matchID uuid.UUID, roomCode, role string, identityID int64) error {
	m.CreateWaitingCalls.Add(1)
	if err := m.takeFailure(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.seq++
	rec := &memoryMatch{
		MatchRecord: MatchRecord{
			ID:        matchID,
			RoomCode:  roomCode,
			Status:    StatusWaiting,
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: m.seq,
	}
	setRole(&rec.MatchRecord, role, identityID)
	m.matches[matchID] = rec
	return nil
}

// FillSecondRole 填入第二位玩家
func (m *Memory) FillSecondRole(ctx context.Context, matchID uuid.UUID, role string, identityID int64) error {
	m.FillCalls.Add(1)
	if err := m.takeFailure(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.matches[matchID]
	if !ok || rec.Status != StatusWaiting {
		return ErrNotFound
	}
	setRole(&rec.MatchRecord, role, identityID)
	rec.Status = StatusPlaying
	rec.UpdatedAt = time.Now()
	return nil
}

// FindActiveForIdentity 查詢最新的進行中對局
func (m *Memory) FindActiveForIdentity(ctx context.Context, identityID int64) (*ActiveMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *memoryMatch
	for _, rec := range m.matches {
		if rec.Status != StatusWaiting && rec.Status != StatusPlaying {
			continue
		}
		if rec.AttackerID != identityID && rec.DefenderID != identityID {
			continue
		}
		if latest == nil || rec.seq > latest.seq {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}

	role := RoleDefender
	if latest.AttackerID == identityID {
		role = RoleAttacker
	}
	return &ActiveMatch{
		MatchID:  latest.ID,
		RoomCode: latest.RoomCode,
		Role:     role,
		Status:   latest.Status,
	}, nil
}

// Finish 寫入對局結果
func (m *Memory) Finish(ctx context.Context, matchID uuid.UUID, result MatchResult) error {
	m.FinishCalls.Add(1)
	if err := m.takeFailure(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.matches[matchID]
	if !ok || rec.Status == StatusFinished {
		return ErrNotFound
	}
	rec.WinnerID = result.WinnerID
	rec.LoserID = result.LoserID
	rec.Reason = result.Reason
	rec.BaseHPFinal = result.FinalBaseHP
	rec.DurationSec = result.DurationSec
	rec.Status = StatusFinished
	rec.UpdatedAt = time.Now()
	return nil
}

// DeleteWaiting 刪除仍在等待中的對局
func (m *Memory) DeleteWaiting(ctx context.Context, matchID uuid.UUID) error {
	m.DeleteCalls.Add(1)
	if err := m.takeFailure(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.matches[matchID]; ok && rec.Status == StatusWaiting {
		delete(m.matches, matchID)
	}
	return nil
}

// Abandon 結束對局但不計勝負
func (m *Memory) Abandon(ctx context.Context, matchID uuid.UUID, reason string) error {
	m.AbandonCalls.Add(1)
	if err := m.takeFailure(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.matches[matchID]
	if !ok || rec.Status == StatusFinished {
		return nil
	}
	rec.Status = StatusFinished
	rec.Reason = reason
	rec.UpdatedAt = time.Now()
	return nil
}

// ListOpen 列出等待對手的對局，最新的在前
func (m *Memory) ListOpen(ctx context.Context, limit int) ([]OpenMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var open []*memoryMatch
	for _, rec := range m.matches {
		if rec.Status != StatusWaiting {
			continue
		}
		if (rec.AttackerID == 0) == (rec.DefenderID == 0) {
			continue
		}
		open = append(open, rec)
	}
	slices.SortFunc(open, func(a, b *memoryMatch) int {
		return int(b.seq - a.seq)
	})
	if len(open) > limit {
		open = open[:limit]
	}

	result := make([]OpenMatch, 0, len(open))
	for _, rec := range open {
		creatorID, needed := rec.AttackerID, RoleDefender
		if creatorID == 0 {
			creatorID, needed = rec.DefenderID, RoleAttacker
		}
		name := ""
		if u, ok := m.users[creatorID]; ok {
			name = u.Username
		}
		result = append(result, OpenMatch{
			MatchID:     rec.ID,
			RoomCode:    rec.RoomCode,
			CreatorName: name,
			NeededRole:  needed,
			CreatedAt:   rec.CreatedAt,
		})
	}
	return result, nil
}

// SweepStale 結束過期的未完成對局
func (m *Memory) SweepStale(ctx context.Context, before time.Time, live []uuid.UUID, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept int64
	for id, rec := range m.matches {
		if rec.Status == StatusFinished || !rec.CreatedAt.Before(before) {
			continue
		}
		if slices.Contains(live, id) {
			continue
		}
		rec.Status = StatusFinished
		rec.Reason = reason
		rec.UpdatedAt = time.Now()
		swept++
	}
	return swept, nil
}

// Match 返回對局記錄（測試用）
func (m *Memory) Match(matchID uuid.UUID) (MatchRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.matches[matchID]
	if !ok {
		return MatchRecord{}, false
	}
	return rec.MatchRecord, true
}

// Backdate 將對局的建立時間往前移（測試用）
func (m *Memory) Backdate(matchID uuid.UUID, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.matches[matchID]; ok {
		rec.CreatedAt = rec.CreatedAt.Add(-d)
	}
}

func setRole(rec *MatchRecord, role string, identityID int64) {
	if role == RoleAttacker {
		rec.AttackerID = identityID
	} else {
		rec.DefenderID = identityID
	}
}
