package game

import "errors"

// 規則錯誤，每個對應一個固定的客戶端訊息
var (
	ErrAuthRequired     = errors.New("authentication required")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room full")
	ErrAlreadyInRoom    = errors.New("already in a room")
	ErrStateLost        = errors.New("match state lost")
	ErrInvalidRole      = errors.New("invalid role")
	ErrNotInRoom        = errors.New("not in a room")
	ErrMalformedMessage = errors.New("malformed message")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrSessionReplaced  = errors.New("session replaced")

	// errIgnored 不回應客戶端的拒絕（角色不符、狀態不符等）
	errIgnored = errors.New("message ignored")
)

// 客戶端看到的錯誤訊息
var clientMessages = map[error]string{
	ErrAuthRequired:    "Authentication required.",
	ErrRoomNotFound:    "Room invalid.",
	ErrRoomFull:        "Room full.",
	ErrAlreadyInRoom:   "Already in a room.",
	ErrStateLost:       "Match state was lost. Returning to menu.",
	ErrInvalidRole:     "Invalid role.",
	ErrRateLimited:     "Rate limit exceeded.",
	ErrSessionReplaced: "Session replaced by a new connection.",
}

// ClientMessage 返回錯誤對應的客戶端訊息；不需要回應的錯誤返回 false
func ClientMessage(err error) (string, bool) {
	for sentinel, msg := range clientMessages {
		if errors.Is(err, sentinel) {
			return msg, true
		}
	}
	return "", false
}

// 帳號相關的 authError 訊息
const (
	msgUsernameTaken      = "Username already taken"
	msgUserNotFound       = "User not found"
	msgInvalidPassword    = "Invalid password"
	msgCredentialsMissing = "Username and password are required"
	msgRegisterFailed     = "Server database error during registration."
	msgLoginFailed        = "Server error during login"
	msgSessionInvalid     = "Session invalid or user deleted."
	msgReauthFailed       = "Server error during reauth."
	msgRegistered         = "Registration successful! Please login."
)

// 對局結束原因
const (
	ReasonBaseDestroyed = "Base Destroyed"
	ReasonTimeLimit     = "Time Limit Reached"
	ReasonForfeit       = "Player Forfeited"
	ReasonDisconnect    = "Opponent did not reconnect in time."
	ReasonStateLost     = "State lost"
	ReasonStale         = "Stale"
	ReasonCancelled     = "Cancelled"
)
