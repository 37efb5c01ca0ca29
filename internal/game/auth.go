package game

import (
	"context"
	"errors"
	"strings"

	"github.com/itzluthfi/tower-defense/internal/protocol"
	"github.com/itzluthfi/tower-defense/internal/session"
	"github.com/itzluthfi/tower-defense/internal/store"
)

func (e *Engine) authError(s *session.Session, text string) {
	e.send(s, protocol.TypeAuthError, protocol.ErrorMessage{Message: text})
}

// handleRegister 註冊帳號（不自動登入）
func (e *Engine) handleRegister(ctx context.Context, s *session.Session, _ *session.Identity, msg *protocol.ClientMessage) {
	username := strings.TrimSpace(msg.Username)
	if username == "" || msg.Password == "" {
		e.authError(s, msgCredentialsMissing)
		return
	}

	ctx, cancel := e.queryContext(ctx)
	defer cancel()

	_, err := e.accounts.FindByUsername(ctx, username)
	switch {
	case err == nil:
		e.authError(s, msgUsernameTaken)
		return
	case !errors.Is(err, store.ErrNotFound):
		e.logger.Error("註冊失敗：查詢使用者", "username", username, "error", err)
		e.authError(s, msgRegisterFailed)
		return
	}

	hash, err := e.hasher.Hash(msg.Password)
	if err != nil {
		e.logger.Error("註冊失敗：雜湊密碼", "username", username, "error", err)
		e.authError(s, msgRegisterFailed)
		return
	}

	user, err := e.accounts.CreateUser(ctx, username, hash)
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			e.authError(s, msgUsernameTaken)
			return
		}
		e.logger.Error("註冊失敗：寫入使用者", "username", username, "error", err)
		e.authError(s, msgRegisterFailed)
		return
	}

	e.logger.Info("帳號已註冊", "identity", user.ID, "username", user.Username)
	e.send(s, protocol.TypeRegisterSuccess, protocol.RegisterSuccess{Message: msgRegistered})
}

// handleLogin 驗證帳密並綁定身份，接著送出 dashboard
func (e *Engine) handleLogin(ctx context.Context, s *session.Session, _ *session.Identity, msg *protocol.ClientMessage) {
	username := strings.TrimSpace(msg.Username)
	if username == "" || msg.Password == "" {
		e.authError(s, msgCredentialsMissing)
		return
	}

	qctx, cancel := e.queryContext(ctx)
	user, err := e.accounts.VerifyCredentials(qctx, username, msg.Password)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			e.authError(s, msgUserNotFound)
		case errors.Is(err, store.ErrInvalidCredentials):
			e.authError(s, msgInvalidPassword)
		default:
			e.logger.Error("登入失敗", "username", username, "error", err)
			e.authError(s, msgLoginFailed)
		}
		return
	}

	if err := e.exec(func() { e.bindIdentity(s, user) }); err != nil {
		return
	}

	e.logger.Info("玩家已登入", "identity", user.ID, "username", user.Username, "session", s.ID)
	e.send(s, protocol.TypeLoginSuccess, protocol.LoginSuccess{
		IdentityID: user.ID,
		ID:         user.ID,
		Username:   user.Username,
	})
	e.sendDashboard(ctx, s, user.ID)
}

// handleReauth 以身份 ID 恢復登入狀態，並嘗試回到進行中的對局
//
// 流程：
//  1. 查詢帳號與進行中的對局記錄（連線 goroutine）
//  2. 回到事件迴圈綁定身份
//  3. 沒有對局 → reauthSuccess{}
//  4. 記錄為 playing 但房間不存在 → reauthSuccess{} + 狀態遺失錯誤
//  5. 仍有座位 → reauthSuccess{roomCode, role} + 重連
func (e *Engine) handleReauth(ctx context.Context, s *session.Session, _ *session.Identity, msg *protocol.ClientMessage) {
	id := msg.ReauthID()
	if id <= 0 {
		e.authError(s, msgSessionInvalid)
		return
	}

	ctx, cancel := e.queryContext(ctx)
	defer cancel()

	user, err := e.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.authError(s, msgSessionInvalid)
			return
		}
		e.logger.Error("重新驗證失敗：查詢使用者", "identity", id, "error", err)
		e.authError(s, msgReauthFailed)
		return
	}

	active, err := e.matches.FindActiveForIdentity(ctx, user.ID)
	if err != nil {
		e.logger.Error("重新驗證失敗：查詢對局記錄", "identity", id, "error", err)
		e.authError(s, msgReauthFailed)
		return
	}

	_ = e.exec(func() {
		e.bindIdentity(s, user)
		e.restore(s, active)
	})
}

// restore 依對局記錄恢復連線的房間綁定（事件迴圈）
func (e *Engine) restore(s *session.Session, active *store.ActiveMatch) {
	if active == nil {
		e.send(s, protocol.TypeReauthSuccess, protocol.ReauthSuccess{})
		return
	}

	room, ok := e.rooms.Get(active.RoomCode)
	if !ok || room.MatchID != active.MatchID {
		e.send(s, protocol.TypeReauthSuccess, protocol.ReauthSuccess{})
		// 等待中的記錄可能正由 writer 刪除，只有 playing 才算狀態遺失
		if active.Status == store.StatusPlaying {
			e.stateLost(s, active)
		}
		return
	}

	role, seated := room.SeatOf(s.Identity.ID)
	if !seated || room.Status == StatusFinished {
		e.send(s, protocol.TypeReauthSuccess, protocol.ReauthSuccess{})
		return
	}
	if err := e.leaveOtherRoom(s, room.Code); err != nil {
		e.send(s, protocol.TypeReauthSuccess, protocol.ReauthSuccess{})
		e.reject(s, protocol.TypeReauth, err)
		return
	}

	e.send(s, protocol.TypeReauthSuccess, protocol.ReauthSuccess{
		RoomCode: room.Code,
		Role:     role,
	})
	e.reconnect(s, room, role)
}

// bindIdentity 綁定身份；換成不同帳號時先釋放原本的座位
func (e *Engine) bindIdentity(s *session.Session, user *store.User) {
	if s.Identity != nil && s.Identity.ID != user.ID {
		e.releaseSeat(s)
	}
	s.Identity = &session.Identity{
		ID:       user.ID,
		Username: user.Username,
	}
}

// handleDashboard 送出戰績與排行榜
func (e *Engine) handleDashboard(ctx context.Context, s *session.Session, ident *session.Identity, _ *protocol.ClientMessage) {
	e.sendDashboard(ctx, s, ident.ID)
}

func (e *Engine) sendDashboard(ctx context.Context, s *session.Session, identityID int64) {
	ctx, cancel := e.queryContext(ctx)
	defer cancel()

	stats, err := e.accounts.GetStats(ctx, identityID)
	if err != nil {
		e.logger.Error("查詢戰績失敗", "identity", identityID, "error", err)
		return
	}

	board, err := e.Leaderboard(ctx)
	if err != nil {
		e.logger.Error("查詢排行榜失敗", "identity", identityID, "error", err)
		board = []protocol.LeaderboardEntry{}
	}

	e.send(s, protocol.TypeDashboardData, protocol.Dashboard{
		Stats: &protocol.Stats{
			Username:      stats.Username,
			Wins:          stats.Wins,
			Losses:        stats.Losses,
			MatchesPlayed: stats.MatchesPlayed,
			Trophies:      stats.Trophies,
		},
		Leaderboard: board,
	})
}
