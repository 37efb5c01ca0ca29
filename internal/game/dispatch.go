package game

import (
	"context"
	"errors"
	"strings"

	"github.com/itzluthfi/tower-defense/internal/protocol"
	"github.com/itzluthfi/tower-defense/internal/session"
)

// loopHandler 在事件迴圈中執行的處理函數
//
// 返回的錯誤由 reject 轉換為客戶端訊息或日誌。
type loopHandler func(s *session.Session, msg *protocol.ClientMessage) error

// asyncHandler 在連線 goroutine 上執行的處理函數（需要查詢資料庫）
//
// ident 是進入處理函數時已驗證身份的副本，未要求登入的路由為 nil。
type asyncHandler func(ctx context.Context, s *session.Session, ident *session.Identity, msg *protocol.ClientMessage)

type route struct {
	auth  bool
	loop  loopHandler
	async asyncHandler
}

// buildRoutes 訊息類型 → 處理函數
func (e *Engine) buildRoutes() map[string]route {
	return map[string]route{
		protocol.TypeRegister:     {async: e.handleRegister},
		protocol.TypeLogin:        {async: e.handleLogin},
		protocol.TypeReauth:       {async: e.handleReauth},
		protocol.TypeGetDashboard: {auth: true, async: e.handleDashboard},
		protocol.TypeGetAvailable: {auth: true, async: e.handleAvailableMatches},
		protocol.TypeRejoinRoom:   {auth: true, async: e.handleRejoinRoom},

		protocol.TypeCreateRoom:    {auth: true, loop: e.handleCreateRoom},
		protocol.TypeJoinRoom:      {auth: true, loop: e.handleJoinRoom},
		protocol.TypeLeaveMatch:    {auth: true, loop: e.handleLeaveMatch},
		protocol.TypeTroopDeployed: {auth: true, loop: e.handleTroopDeployed},
		protocol.TypeTowerPlaced:   {auth: true, loop: e.handleTowerPlaced},
		protocol.TypeBaseHit:       {auth: true, loop: e.handleBaseHit},
		protocol.TypeUpdateGold:    {auth: true, loop: e.handleUpdateGold},
		protocol.TypeChat:          {auth: true, loop: e.handleChat},
	}
}

// dispatch 執行路由
func (e *Engine) dispatch(ctx context.Context, s *session.Session, r route, msg *protocol.ClientMessage) {
	if r.loop != nil {
		_ = e.exec(func() {
			if r.auth && !s.Authenticated() {
				e.reject(s, msg.Type, ErrAuthRequired)
				return
			}
			if err := r.loop(s, msg); err != nil {
				e.reject(s, msg.Type, err)
			}
		})
		return
	}

	var ident *session.Identity
	if r.auth {
		err := e.exec(func() {
			if s.Identity != nil {
				copied := *s.Identity
				ident = &copied
			}
		})
		if err != nil {
			return
		}
		if ident == nil {
			e.reject(s, msg.Type, ErrAuthRequired)
			return
		}
	}
	r.async(ctx, s, ident, msg)
}

// reject 處理被拒絕的訊息
//
// 有對應客戶端訊息的錯誤送出 error；忽略類的錯誤只記 debug；其餘記 error。
func (e *Engine) reject(s *session.Session, msgType string, err error) {
	if text, ok := ClientMessage(err); ok {
		e.logger.Debug("拒絕訊息",
			"session", s.ID,
			"type", msgType,
			"reason", err)
		e.send(s, protocol.TypeError, protocol.ErrorMessage{Message: text})
		return
	}

	if errors.Is(err, errIgnored) || errors.Is(err, ErrNotInRoom) || errors.Is(err, ErrMalformedMessage) {
		e.logger.Debug("忽略訊息",
			"session", s.ID,
			"type", msgType,
			"reason", err)
		return
	}

	e.logger.Error("處理訊息失敗",
		"session", s.ID,
		"type", msgType,
		"error", err)
}

// normalizeCode 房間代碼不分大小寫
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
