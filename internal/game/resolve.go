package game

import (
	"context"
	"fmt"
	"time"

	"github.com/itzluthfi/tower-defense/internal/events"
	"github.com/itzluthfi/tower-defense/internal/protocol"
	"github.com/itzluthfi/tower-defense/internal/store"
)

// gameTimeUp 對局時限到，防守方獲勝
func (e *Engine) gameTimeUp(room *Room) {
	if current, ok := e.rooms.Get(room.Code); !ok || current != room {
		return
	}
	if room.Status != StatusPlaying {
		return
	}
	e.resolve(room, protocol.RoleDefender, ReasonTimeLimit)
}

// resolve playing → finished
//
// 冪等：只有 playing 狀態的房間會被結算，同一房間的多個結束事件只有第一個生效。
//
// 順序：
//  1. 狀態改為 finished，取消寬限期與對局計時器
//  2. 立即廣播 gameOver（不等資料庫）
//  3. writer：更新戰績 → 寫入對局結果 → 發布事件 → 推送排行榜
//  4. linger 後刪除房間
func (e *Engine) resolve(room *Room, winner protocol.Role, reason string) {
	if room.Status != StatusPlaying {
		e.logger.Debug("重複的結束事件", "room", room.Code, "status", room.Status, "reason", reason)
		return
	}

	room.Status = StatusFinished
	room.FinishedAt = time.Now()
	e.timers.Cancel(TimerGrace, room.Code)
	e.timers.Cancel(TimerGame, room.Code)

	e.broadcast(room, protocol.TypeGameOver, protocol.GameOver{
		Winner: winner.Winner(),
		Reason: reason,
	}, "")

	var attackerID, defenderID int64
	if room.Attacker != nil {
		attackerID = room.Attacker.IdentityID
	}
	if room.Defender != nil {
		defenderID = room.Defender.IdentityID
	}
	attackerWon := winner == protocol.RoleAttacker

	result := store.MatchResult{
		Reason:      reason,
		FinalBaseHP: room.BaseHP,
		DurationSec: int(room.Duration() / time.Second),
	}
	if attackerWon {
		result.WinnerID, result.LoserID = attackerID, defenderID
	} else {
		result.WinnerID, result.LoserID = defenderID, attackerID
	}

	matchID, code := room.MatchID, room.Code
	e.writer.enqueue("finish", code, func(ctx context.Context) error {
		if attackerID != 0 && defenderID != 0 {
			if err := e.accounts.RecordMatchOutcome(ctx, attackerID, defenderID, attackerWon); err != nil {
				// 戰績失敗不阻擋對局記錄
				e.logger.Error("更新戰績失敗",
					"room", code,
					"match", matchID,
					"error", err)
			}
		}
		if err := e.matches.Finish(ctx, matchID, result); err != nil {
			return fmt.Errorf("寫入對局結果失敗: %w", err)
		}
		return nil
	})
	e.publish(events.Event{
		Type:       events.MatchFinished,
		MatchID:    matchID,
		RoomCode:   code,
		AttackerID: attackerID,
		DefenderID: defenderID,
		Winner:     winner.Winner(),
		Reason:     reason,
		BaseHP:     room.BaseHP,
	})
	e.writer.enqueue("leaderboard_update", code, e.pushLeaderboard)

	e.timers.Arm(TimerLinger, code, e.config.LingerDuration, func() {
		e.deleteRoom(room)
	})

	e.logger.Info("對局結束",
		"room", code,
		"match", matchID,
		"winner", winner,
		"reason", reason,
		"base_hp", room.BaseHP,
		"duration_sec", result.DurationSec)
}

// pushLeaderboard 讀取最新排行榜並廣播給所有已登入的連線（writer goroutine）
func (e *Engine) pushLeaderboard(ctx context.Context) error {
	board, err := e.Leaderboard(ctx)
	if err != nil {
		return err
	}

	// 不在 writer goroutine 上等待事件迴圈
	go e.post(func() {
		e.broadcastAll(protocol.TypeLeaderboardUpdate, protocol.Leaderboard{Leaderboard: board})
	})
	return nil
}
