package game

import (
	"context"
	"time"

	"github.com/itzluthfi/tower-defense/internal/events"
	"github.com/itzluthfi/tower-defense/internal/protocol"
	"github.com/itzluthfi/tower-defense/internal/session"
	"github.com/itzluthfi/tower-defense/internal/store"
)

// releaseSeat 連線離開房間（斷線或切換帳號）
//
// 對局中：座位標記為斷線並啟動寬限期；等待中：空出座位。
func (e *Engine) releaseSeat(s *session.Session) {
	if s.RoomCode == "" {
		return
	}
	room, ok := e.rooms.Get(s.RoomCode)
	role := s.Role
	s.Unbind()
	if !ok {
		return
	}

	seat := room.Seat(role)
	if seat == nil || seat.SessionID != s.ID {
		return
	}

	switch room.Status {
	case StatusPlaying:
		seat.Connected = false
		seat.DisconnectedAt = time.Now()
		seat.SessionID = ""

		e.logger.Info("玩家斷線",
			"room", room.Code,
			"identity", seat.IdentityID,
			"role", role,
			"grace", e.config.GracePeriod)

		e.broadcast(room, protocol.TypePlayerDisconnected, protocol.PlayerNotice{
			PlayerID:   seat.IdentityID,
			PlayerName: seat.Name,
			Role:       role,
		}, "")
		e.armGrace(room)

	case StatusWaiting:
		e.vacate(room, role)
	}
}

// reconnect 連線接回自己的座位並收到完整狀態
//
// 同一身份在此房間的其他連線會被取代並關閉。
func (e *Engine) reconnect(s *session.Session, room *Room, role protocol.Role) {
	seat := room.Seat(role)

	for _, other := range e.sessions.ByIdentity(seat.IdentityID) {
		if other.ID == s.ID || other.RoomCode != room.Code {
			continue
		}
		other.Unbind()
		e.sendError(other, ErrSessionReplaced)
		other.Peer.Close()
		e.logger.Info("舊連線已被取代", "room", room.Code, "session", other.ID)
	}

	wasDisconnected := !seat.Connected
	seat.Connected = true
	seat.DisconnectedAt = time.Time{}
	seat.SessionID = s.ID
	s.Bind(room.Code, role)

	// 另一位玩家可能仍在斷線中，依其剩餘時間重新設定
	e.armGrace(room)

	e.send(s, protocol.TypeRoomJoined, protocol.RoomEntered{
		RoomCode: room.Code,
		PlayerID: seat.IdentityID,
		Role:     role,
		Data:     room.Snapshot(time.Now()),
	})

	if wasDisconnected {
		e.broadcast(room, protocol.TypeChat, protocol.Chat{
			PlayerID:   seat.IdentityID,
			PlayerName: seat.Name,
			Message:    seat.Name + " reconnected.",
		}, s.ID)
	}

	e.logger.Info("玩家重新連線",
		"room", room.Code,
		"identity", seat.IdentityID,
		"role", role,
		"status", room.Status)
}

// armGrace 依最早斷線的座位設定寬限期計時器
//
// 每個房間只有一個寬限期計時器。兩人都斷線時，先斷線的一方到期判負；
// 沒有斷線的座位時取消計時器。
func (e *Engine) armGrace(room *Room) {
	if room.Status != StatusPlaying {
		e.timers.Cancel(TimerGrace, room.Code)
		return
	}

	var (
		first     *Seat
		firstRole protocol.Role
	)
	for _, role := range []protocol.Role{protocol.RoleAttacker, protocol.RoleDefender} {
		seat := room.Seat(role)
		if seat == nil || seat.Connected {
			continue
		}
		if first == nil || seat.DisconnectedAt.Before(first.DisconnectedAt) {
			first, firstRole = seat, role
		}
	}
	if first == nil {
		e.timers.Cancel(TimerGrace, room.Code)
		return
	}

	remaining := max(0, e.config.GracePeriod-time.Since(first.DisconnectedAt))
	e.timers.Arm(TimerGrace, room.Code, remaining, func() {
		e.graceExpired(room, firstRole)
	})
}

// graceExpired 寬限期到期，斷線方判負
func (e *Engine) graceExpired(room *Room, role protocol.Role) {
	if current, ok := e.rooms.Get(room.Code); !ok || current != room {
		return
	}
	if room.Status != StatusPlaying {
		return
	}
	if seat := room.Seat(role); seat == nil || seat.Connected {
		e.armGrace(room)
		return
	}

	e.logger.Info("寬限期到期", "room", room.Code, "role", role)
	e.resolve(room, role.Opponent(), ReasonDisconnect)
}

// stateLost 對局記錄為 playing 但房間已不存在（例如伺服器重啟）
//
// 不嘗試重建狀態：通知客戶端回到選單，並將記錄結束為不計勝負。
func (e *Engine) stateLost(s *session.Session, active *store.ActiveMatch) {
	e.logger.Error("對局狀態遺失",
		"room", active.RoomCode,
		"match", active.MatchID,
		"session", s.ID)

	e.sendError(s, ErrStateLost)

	matchID, code := active.MatchID, active.RoomCode
	e.writer.enqueue("abandon", code, func(ctx context.Context) error {
		return e.matches.Abandon(ctx, matchID, ReasonStateLost)
	})
	e.publish(events.Event{
		Type:     events.MatchAbandoned,
		MatchID:  matchID,
		RoomCode: code,
		Reason:   ReasonStateLost,
	})
}
