package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itzluthfi/tower-defense/internal/events"
	"github.com/itzluthfi/tower-defense/internal/protocol"
	"github.com/itzluthfi/tower-defense/internal/session"
	"github.com/itzluthfi/tower-defense/internal/store"
)

// handleCreateRoom 以指定角色創建房間
func (e *Engine) handleCreateRoom(s *session.Session, msg *protocol.ClientMessage) error {
	role := msg.Role
	if !role.Valid() {
		return ErrInvalidRole
	}
	if err := e.ensureFree(s); err != nil {
		return err
	}

	room, err := e.rooms.Create(e.config.InitialGold, e.config.InitialBaseHP)
	if err != nil {
		return fmt.Errorf("創建房間失敗: %w", err)
	}

	identity := s.Identity
	room.SetSeat(role, &Seat{
		IdentityID: identity.ID,
		Name:       identity.Username,
		Connected:  true,
		SessionID:  s.ID,
	})
	s.Bind(room.Code, role)

	matchID, code := room.MatchID, room.Code
	e.writer.enqueue("create_waiting", code, func(ctx context.Context) error {
		return e.matches.CreateWaiting(ctx, matchID, code, string(role), identity.ID)
	})
	event := events.Event{Type: events.MatchCreated, MatchID: matchID, RoomCode: code}
	if role == protocol.RoleAttacker {
		event.AttackerID = identity.ID
	} else {
		event.DefenderID = identity.ID
	}
	e.publish(event)

	e.logger.Info("房間已創建",
		"room", code,
		"match", matchID,
		"identity", identity.ID,
		"role", role)

	e.send(s, protocol.TypeRoomCreated, protocol.RoomEntered{
		RoomCode: code,
		PlayerID: identity.ID,
		Role:     role,
		Data:     room.Snapshot(time.Now()),
	})
	return nil
}

// handleJoinRoom 以房間代碼加入，自動取得空出的角色
func (e *Engine) handleJoinRoom(s *session.Session, msg *protocol.ClientMessage) error {
	code := normalizeCode(msg.RoomCode)
	if code == "" {
		return ErrRoomNotFound
	}
	if err := e.ensureFree(s); err != nil {
		return err
	}

	room, ok := e.rooms.Get(code)
	if !ok {
		return ErrRoomNotFound
	}
	if room.Status != StatusWaiting {
		return ErrRoomFull
	}
	role, ok := room.Vacancy()
	if !ok {
		return ErrRoomFull
	}

	identity := s.Identity
	room.SetSeat(role, &Seat{
		IdentityID: identity.ID,
		Name:       identity.Username,
		Connected:  true,
		SessionID:  s.ID,
	})
	s.Bind(code, role)

	e.logger.Info("玩家加入房間",
		"room", code,
		"identity", identity.ID,
		"role", role)

	e.send(s, protocol.TypeRoomJoined, protocol.RoomEntered{
		RoomCode: code,
		PlayerID: identity.ID,
		Role:     role,
		Data:     room.Snapshot(time.Now()),
	})
	e.broadcast(room, protocol.TypePlayerJoined, protocol.PlayerNotice{
		PlayerID:   identity.ID,
		PlayerName: identity.Username,
		Role:       role,
	}, s.ID)

	e.startMatch(room, role)
	return nil
}

// startMatch waiting → playing（兩個座位都有人時只會發生一次）
func (e *Engine) startMatch(room *Room, joinedRole protocol.Role) {
	if room.Status != StatusWaiting || !room.Full() {
		return
	}

	now := time.Now()
	room.Status = StatusPlaying
	room.StartedAt = now
	room.Deadline = now.Add(e.config.GameDuration)

	matchID, code := room.MatchID, room.Code
	joinedID := room.Seat(joinedRole).IdentityID
	e.writer.enqueue("fill_second_role", code, func(ctx context.Context) error {
		return e.matches.FillSecondRole(ctx, matchID, string(joinedRole), joinedID)
	})
	e.publish(events.Event{
		Type:       events.MatchStarted,
		MatchID:    matchID,
		RoomCode:   code,
		AttackerID: room.Attacker.IdentityID,
		DefenderID: room.Defender.IdentityID,
	})

	e.broadcast(room, protocol.TypeGameStarted, protocol.GameStarted{
		AttackerName: room.Attacker.Name,
		DefenderName: room.Defender.Name,
	}, "")

	e.timers.Arm(TimerGame, code, e.config.GameDuration, func() {
		e.gameTimeUp(room)
	})

	e.logger.Info("對局開始",
		"room", code,
		"match", matchID,
		"attacker", room.Attacker.IdentityID,
		"defender", room.Defender.IdentityID)
}

// handleLeaveMatch 主動離開
//
// 對局中離開視為投降，離開者仍會收到 gameOver。
func (e *Engine) handleLeaveMatch(s *session.Session, _ *protocol.ClientMessage) error {
	if s.RoomCode == "" {
		return ErrNotInRoom
	}

	room, ok := e.rooms.Get(s.RoomCode)
	if !ok {
		s.Unbind()
		return nil
	}

	role := s.Role
	switch room.Status {
	case StatusPlaying:
		e.logger.Info("玩家投降", "room", room.Code, "identity", s.Identity.ID, "role", role)
		e.resolve(room, role.Opponent(), ReasonForfeit)
		s.Unbind()
	case StatusWaiting:
		s.Unbind()
		if seat := room.Seat(role); seat != nil && seat.SessionID == s.ID {
			e.vacate(room, role)
		}
	default:
		s.Unbind()
	}
	return nil
}

// handleRejoinRoom 以房間代碼回到自己仍佔有座位的對局
func (e *Engine) handleRejoinRoom(ctx context.Context, s *session.Session, ident *session.Identity, msg *protocol.ClientMessage) {
	code := normalizeCode(msg.RoomCode)

	var lookup bool
	err := e.exec(func() {
		err := e.rejoin(s, code)
		switch {
		case err == nil:
		case errors.Is(err, ErrRoomNotFound) && code != "":
			lookup = true
		default:
			e.reject(s, msg.Type, err)
		}
	})
	if err != nil || !lookup {
		return
	}

	// 記憶體中沒有可回去的房間：查對局記錄判斷是否為狀態遺失
	qctx, cancel := e.queryContext(ctx)
	active, err := e.matches.FindActiveForIdentity(qctx, ident.ID)
	cancel()
	if err != nil {
		e.logger.Error("查詢對局記錄失敗", "identity", ident.ID, "room", code, "error", err)
		active = nil
	}

	_ = e.exec(func() {
		if active == nil || active.RoomCode != code || active.Status != store.StatusPlaying {
			e.reject(s, msg.Type, ErrRoomNotFound)
			return
		}
		// 查詢期間房間狀態可能已改變
		if room, ok := e.rooms.Get(code); ok && room.MatchID == active.MatchID {
			if err := e.rejoin(s, code); err != nil {
				e.reject(s, msg.Type, err)
			}
			return
		}
		e.stateLost(s, active)
	})
}

// rejoin 回到 code 房間中自己的座位（事件迴圈）
func (e *Engine) rejoin(s *session.Session, code string) error {
	if code == "" {
		return ErrRoomNotFound
	}
	room, ok := e.rooms.Get(code)
	if !ok || room.Status == StatusFinished {
		return ErrRoomNotFound
	}
	role, seated := room.SeatOf(s.Identity.ID)
	if !seated {
		return ErrRoomNotFound
	}
	if err := e.leaveOtherRoom(s, code); err != nil {
		return err
	}

	e.reconnect(s, room, role)
	return nil
}

// handleAvailableMatches 等待對手的房間列表
func (e *Engine) handleAvailableMatches(ctx context.Context, s *session.Session, _ *session.Identity, _ *protocol.ClientMessage) {
	ctx, cancel := e.queryContext(ctx)
	defer cancel()

	matches, err := e.OpenMatches(ctx)
	if err != nil {
		e.logger.Error("查詢等待中的對局失敗", "session", s.ID, "error", err)
		matches = []protocol.OpenMatch{}
	}

	e.send(s, protocol.TypeAvailableMatches, protocol.AvailableMatches{Matches: matches})
}

// ensureFree 確認連線與身份都不在未結束的房間中
//
// 綁定在已結束房間的連線會被隱式解除綁定。
func (e *Engine) ensureFree(s *session.Session) error {
	if s.RoomCode != "" {
		if room, ok := e.rooms.Get(s.RoomCode); ok && room.Status != StatusFinished {
			return ErrAlreadyInRoom
		}
		s.Unbind()
	}
	if _, ok := e.rooms.FindSeat(s.Identity.ID); ok {
		return ErrAlreadyInRoom
	}
	return nil
}

// leaveOtherRoom 連線綁定在 code 以外的房間時：未結束則拒絕，已結束則解除綁定
func (e *Engine) leaveOtherRoom(s *session.Session, code string) error {
	if s.RoomCode == "" || s.RoomCode == code {
		return nil
	}
	if room, ok := e.rooms.Get(s.RoomCode); ok && room.Status != StatusFinished {
		return ErrAlreadyInRoom
	}
	s.Unbind()
	return nil
}

// vacate 空出等待中房間的座位，沒人時刪除房間與等待記錄
func (e *Engine) vacate(room *Room, role protocol.Role) {
	room.SetSeat(role, nil)
	if !room.Empty() {
		return
	}

	matchID, code := room.MatchID, room.Code
	e.deleteRoom(room)
	e.writer.enqueue("delete_waiting", code, func(ctx context.Context) error {
		return e.matches.DeleteWaiting(ctx, matchID)
	})
	e.publish(events.Event{
		Type:     events.MatchAbandoned,
		MatchID:  matchID,
		RoomCode: code,
		Reason:   ReasonCancelled,
	})
}

// deleteRoom 從房間表移除，解除仍綁定的連線並取消計時器
func (e *Engine) deleteRoom(room *Room) {
	if !e.rooms.Delete(room) {
		return
	}
	e.timers.CancelRoom(room.Code)
	for _, s := range e.sessions.InRoom(room.Code) {
		s.Unbind()
	}
	e.logger.Info("房間已刪除", "room", room.Code, "match", room.MatchID, "status", room.Status)
}
