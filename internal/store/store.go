// Package store 提供帳號與對局記錄的持久化。
//
// 兩個介面：
//   - AccountStore：帳號、戰績、排行榜
//   - MatchStore：對局記錄（room code 之外的持久化主鍵是 match ID）
//
// 實作：
//   - Postgres：生產環境（pgxpool）
//   - Memory：測試與無資料庫的開發模式
//   - CachedLeaderboard：Redis 旁路快取，包裝任一 AccountStore
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound 記錄不存在
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken 使用者名稱已被註冊
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials 密碼錯誤
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// TrophiesPerWin 勝方獲得的獎盃數，敗方不扣
const TrophiesPerWin = 10

// 對局狀態
const (
	StatusWaiting  = "waiting"
	StatusPlaying  = "playing"
	StatusFinished = "finished"
)

// 角色
const (
	RoleAttacker = "attacker"
	RoleDefender = "defender"
)

// User 帳號
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Stats 戰績
type Stats struct {
	Username      string
	Wins          int
	Losses        int
	MatchesPlayed int
	Trophies      int
}

// LeaderboardEntry 排行榜項目
type LeaderboardEntry struct {
	Username string
	Trophies int
}

// ActiveMatch 身份目前參與中（waiting/playing）的對局
type ActiveMatch struct {
	MatchID  uuid.UUID
	RoomCode string
	Role     string
	Status   string
}

// MatchResult 對局結果
//
// WinnerID/LoserID 為 0 表示缺少一方（不寫入）。
type MatchResult struct {
	WinnerID    int64
	LoserID     int64
	Reason      string
	FinalBaseHP int
	DurationSec int
}

// OpenMatch 等待第二位玩家的對局
type OpenMatch struct {
	MatchID     uuid.UUID
	RoomCode    string
	CreatorName string
	NeededRole  string
	CreatedAt   time.Time
}

// AccountStore 帳號存取
type AccountStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	// VerifyCredentials 驗證帳密，失敗返回 ErrNotFound 或 ErrInvalidCredentials
	VerifyCredentials(ctx context.Context, username, password string) (*User, error)
	GetStats(ctx context.Context, id int64) (*Stats, error)
	GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	// RecordMatchOutcome 在同一個交易中更新雙方戰績
	RecordMatchOutcome(ctx context.Context, attackerID, defenderID int64, attackerWon bool) error
}

// MatchStore 對局記錄存取
type MatchStore interface {
	CreateWaiting(ctx context.Context, matchID uuid.UUID, roomCode, role string, identityID int64) error
	// FillSecondRole 填入第二位玩家並轉為 playing
	FillSecondRole(ctx context.Context, matchID uuid.UUID, role string, identityID int64) error
	// FindActiveForIdentity 沒有進行中的對局時返回 nil, nil
	FindActiveForIdentity(ctx context.Context, identityID int64) (*ActiveMatch, error)
	Finish(ctx context.Context, matchID uuid.UUID, result MatchResult) error
	DeleteWaiting(ctx context.Context, matchID uuid.UUID) error
	// Abandon 將記錄標記為 finished，不計勝負
	Abandon(ctx context.Context, matchID uuid.UUID, reason string) error
	ListOpen(ctx context.Context, limit int) ([]OpenMatch, error)
	// SweepStale 結束 before 之前建立、且不在 live 中的未完成記錄
	SweepStale(ctx context.Context, before time.Time, live []uuid.UUID, reason string) (int64, error)
}

// verifyCredentials 兩種實作共用的帳密驗證
func verifyCredentials(ctx context.Context, accounts AccountStore, hasher Hasher, username, password string) (*User, error) {
	user, err := accounts.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := hasher.Compare(user.PasswordHash, password); err != nil {
		return nil, err
	}
	return user, nil
}
