package game

import (
	"context"
	"time"

	"github.com/itzluthfi/tower-defense/internal/events"
	"github.com/itzluthfi/tower-defense/internal/protocol"
	"github.com/itzluthfi/tower-defense/internal/session"
)

// send 送出訊息給單一連線
//
// Peer.Send 是非阻塞的，可以在任何 goroutine 呼叫。
func (e *Engine) send(s *session.Session, msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		e.logger.Error("序列化訊息失敗", "type", msgType, "error", err)
		return
	}
	if !s.Peer.Send(data) {
		e.logger.Warn("訊息未送出，連線已關閉或緩衝區已滿",
			"session", s.ID,
			"type", msgType)
	}
}

// sendError 送出錯誤對應的 error 訊息
func (e *Engine) sendError(s *session.Session, err error) {
	text, ok := ClientMessage(err)
	if !ok {
		return
	}
	e.send(s, protocol.TypeError, protocol.ErrorMessage{Message: text})
}

// broadcast 送給綁定在房間上的所有連線，except 為排除的連線 ID
//
// 只能在事件迴圈中呼叫。
func (e *Engine) broadcast(room *Room, msgType string, payload any, except string) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		e.logger.Error("序列化訊息失敗", "type", msgType, "error", err)
		return
	}

	for _, s := range e.sessions.InRoom(room.Code) {
		if s.ID == except {
			continue
		}
		if !s.Peer.Send(data) {
			e.logger.Warn("廣播訊息未送出",
				"room", room.Code,
				"session", s.ID,
				"type", msgType)
		}
	}
}

// broadcastAll 送給所有已登入的連線
//
// 只能在事件迴圈中呼叫。
func (e *Engine) broadcastAll(msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		e.logger.Error("序列化訊息失敗", "type", msgType, "error", err)
		return
	}

	for _, s := range e.sessions.All() {
		if s.Authenticated() {
			s.Peer.Send(data)
		}
	}
}

// publish 把對局事件交給 writer 發布
func (e *Engine) publish(event events.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e.writer.enqueue("publish_"+event.Type, event.RoomCode, func(ctx context.Context) error {
		return e.publisher.Publish(ctx, event)
	})
}
