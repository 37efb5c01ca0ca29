// Package protocol 定義客戶端與伺服器之間的 WebSocket 訊息格式。
//
// 每個訊息是一個 JSON 文字幀，以 type 欄位區分類型，其餘欄位平鋪在同一層：
//
//	{"type":"joinRoom","roomCode":"ABC123"}
//	{"type":"gameOver","winner":"Attacker","reason":"Base Destroyed"}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 客戶端 → 伺服器
const (
	TypeRegister      = "register"
	TypeLogin         = "login"
	TypeReauth        = "reauth"
	TypeGetDashboard  = "getDashboard"
	TypeGetAvailable  = "getAvailableMatches"
	TypeCreateRoom    = "createRoom"
	TypeJoinRoom      = "joinRoom"
	TypeRejoinRoom    = "rejoinRoom"
	TypeLeaveMatch    = "leaveMatch"
	TypeTroopDeployed = "troopDeployed"
	TypeTowerPlaced   = "towerPlaced"
	TypeBaseHit       = "baseHit"
	TypeUpdateGold    = "updateGold"
	TypeChat          = "chat"
)

// 伺服器 → 客戶端
const (
	TypeRegisterSuccess    = "registerSuccess"
	TypeLoginSuccess       = "loginSuccess"
	TypeAuthError          = "authError"
	TypeReauthSuccess      = "reauthSuccess"
	TypeDashboardData      = "dashboardData"
	TypeLeaderboardUpdate  = "leaderboardUpdate"
	TypeAvailableMatches   = "availableMatches"
	TypeRoomCreated        = "roomCreated"
	TypeRoomJoined         = "roomJoined"
	TypePlayerJoined       = "playerJoined"
	TypePlayerDisconnected = "playerDisconnected"
	TypeGameStarted        = "gameStarted"
	TypeGameOver           = "gameOver"
	TypeError              = "error"
)

// Role 玩家角色
type Role string

const (
	RoleAttacker Role = "attacker"
	RoleDefender Role = "defender"
)

// Valid 檢查角色是否合法
func (r Role) Valid() bool {
	return r == RoleAttacker || r == RoleDefender
}

// Opponent 返回對手角色
func (r Role) Opponent() Role {
	if r == RoleAttacker {
		return RoleDefender
	}
	return RoleAttacker
}

// Winner 顯示在 gameOver 中的勝方名稱
func (r Role) Winner() string {
	if r == RoleAttacker {
		return "Attacker"
	}
	return "Defender"
}

// ErrMalformed 訊息無法解析
var ErrMalformed = errors.New("malformed message")

// ClientMessage 客戶端送來的訊息
//
// 所有請求欄位都平鋪在一個結構體中，由 Type 決定哪些欄位有意義。
type ClientMessage struct {
	Type string `json:"type"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	IdentityID int64 `json:"identityId,omitempty"`
	ID         int64 `json:"id,omitempty"` // reauth 的舊欄位名

	Role     Role   `json:"role,omitempty"`
	RoomCode string `json:"roomCode,omitempty"`

	Troop json.RawMessage `json:"troop,omitempty"`
	Tower json.RawMessage `json:"tower,omitempty"`
	Gold  *int            `json:"gold,omitempty"`

	BaseHP *int            `json:"baseHP,omitempty"`
	Damage json.RawMessage `json:"damage,omitempty"`

	Message string `json:"message,omitempty"`
}

// ReauthID 返回 reauth 指定的身份 ID
func (m *ClientMessage) ReauthID() int64 {
	if m.IdentityID != 0 {
		return m.IdentityID
	}
	return m.ID
}

// Decode 解析客戶端訊息
func Decode(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &msg, nil
}

// Encode 將伺服器訊息序列化，自動附加 type 欄位
func Encode(msgType string, payload any) ([]byte, error) {
	fields := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("序列化訊息失敗: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("訊息必須是物件: %w", err)
		}
	}
	fields["type"] = msgType
	return json.Marshal(fields)
}

// MustEncode 用於結構固定、不可能序列化失敗的訊息
func MustEncode(msgType string, payload any) []byte {
	data, err := Encode(msgType, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// ErrorMessage error 訊息內容
type ErrorMessage struct {
	Message string `json:"message"`
}

// RegisterSuccess registerSuccess 訊息內容
type RegisterSuccess struct {
	Message string `json:"message"`
}

// LoginSuccess loginSuccess 訊息內容
type LoginSuccess struct {
	IdentityID int64  `json:"identityId"`
	ID         int64  `json:"id"` // 舊版客戶端讀取 id
	Username   string `json:"username"`
}

// ReauthSuccess reauthSuccess 訊息內容
type ReauthSuccess struct {
	RoomCode string `json:"roomCode,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

// Stats 玩家戰績
type Stats struct {
	Username      string `json:"username"`
	Wins          int    `json:"wins"`
	Losses        int    `json:"losses"`
	MatchesPlayed int    `json:"matches_played"`
	Trophies      int    `json:"trophies"`
}

// LeaderboardEntry 排行榜項目
type LeaderboardEntry struct {
	Username string `json:"username"`
	Trophies int    `json:"trophies"`
}

// Dashboard dashboardData 訊息內容
type Dashboard struct {
	Stats       *Stats             `json:"stats"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// Leaderboard leaderboardUpdate 訊息內容
type Leaderboard struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// OpenMatch 等待對手的房間
type OpenMatch struct {
	RoomCode    string    `json:"room_code"`
	CreatorName string    `json:"creator_name"`
	NeededRole  Role      `json:"needed_role"`
	CreatedAt   time.Time `json:"created_at"`
}

// AvailableMatches availableMatches 訊息內容
type AvailableMatches struct {
	Matches []OpenMatch `json:"matches"`
}

// RoomSnapshot 房間完整狀態（roomCreated / roomJoined 的 data 欄位）
//
// 欄位名稱與瀏覽器端的 gameState 一致，客戶端直接合併進本地狀態。
type RoomSnapshot struct {
	Attacker      *SeatSnapshot     `json:"attacker"`
	Defender      *SeatSnapshot     `json:"defender"`
	AttackerGold  int               `json:"attackerGold"`
	DefenderGold  int               `json:"defenderGold"`
	BaseHP        int               `json:"baseHP"`
	Troops        []json.RawMessage `json:"troops"`
	Towers        []json.RawMessage `json:"towers"`
	GameStatus    string            `json:"gameStatus"`
	GameStartTime int64             `json:"gameStartTime"` // Unix 毫秒，未開始為 0
	// 對局剩餘秒數，只在 playing 時有值
	RemainingSec *int `json:"remainingSec,omitempty"`
}

// SeatSnapshot 座位狀態
type SeatSnapshot struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// RoomEntered roomCreated / roomJoined 訊息內容
type RoomEntered struct {
	RoomCode string        `json:"roomCode"`
	PlayerID int64         `json:"playerId"`
	Role     Role          `json:"role"`
	Data     *RoomSnapshot `json:"data"`
}

// PlayerNotice playerJoined / playerDisconnected 訊息內容
type PlayerNotice struct {
	PlayerID   int64  `json:"playerId"`
	PlayerName string `json:"playerName"`
	Role       Role   `json:"role"`
}

// GameStarted gameStarted 訊息內容
type GameStarted struct {
	AttackerName string `json:"attackerName"`
	DefenderName string `json:"defenderName"`
}

// TroopDeployed 轉發給防守方的 troopDeployed
type TroopDeployed struct {
	PlayerID int64           `json:"playerId"`
	Troop    json.RawMessage `json:"troop"`
	Gold     int             `json:"gold"`
}

// TowerPlaced 轉發給進攻方的 towerPlaced
type TowerPlaced struct {
	PlayerID int64           `json:"playerId"`
	Tower    json.RawMessage `json:"tower"`
	Gold     int             `json:"gold"`
}

// GoldUpdate updateGold 訊息內容
type GoldUpdate struct {
	Role Role `json:"role"`
	Gold int  `json:"gold"`
}

// BaseHit baseHit 訊息內容
type BaseHit struct {
	BaseHP int             `json:"baseHP"`
	Damage json.RawMessage `json:"damage,omitempty"`
}

// GameOver gameOver 訊息內容
type GameOver struct {
	Winner string `json:"winner"`
	Reason string `json:"reason"`
}

// Chat chat 訊息內容
type Chat struct {
	PlayerID   int64  `json:"playerId"`
	PlayerName string `json:"playerName"`
	Message    string `json:"message"`
}
