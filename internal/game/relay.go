package game

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/itzluthfi/tower-defense/internal/protocol"
	"github.com/itzluthfi/tower-defense/internal/session"
)

// maxChatRunes 聊天訊息最大長度
const maxChatRunes = 200

// currentRoom 返回連線綁定的房間
func (e *Engine) currentRoom(s *session.Session) (*Room, error) {
	if s.RoomCode == "" {
		return nil, ErrNotInRoom
	}
	room, ok := e.rooms.Get(s.RoomCode)
	if !ok {
		return nil, ErrNotInRoom
	}
	return room, nil
}

// playingRoom 返回連線綁定且進行中的房間
func (e *Engine) playingRoom(s *session.Session) (*Room, error) {
	room, err := e.currentRoom(s)
	if err != nil {
		return nil, err
	}
	if room.Status != StatusPlaying {
		return nil, fmt.Errorf("%w: room %s is %s", errIgnored, room.Code, room.Status)
	}
	return room, nil
}

// handleTroopDeployed 進攻方派兵，只轉發給防守方
func (e *Engine) handleTroopDeployed(s *session.Session, msg *protocol.ClientMessage) error {
	room, err := e.playingRoom(s)
	if err != nil {
		return err
	}
	if s.Role != protocol.RoleAttacker {
		return fmt.Errorf("%w: troopDeployed from %s", errIgnored, s.Role)
	}
	if len(msg.Troop) == 0 {
		return fmt.Errorf("%w: troopDeployed without troop", ErrMalformedMessage)
	}

	room.Troops = append(room.Troops, msg.Troop)
	if msg.Gold != nil {
		room.AttackerGold = e.policy.Gold(*msg.Gold)
	}

	e.broadcast(room, protocol.TypeTroopDeployed, protocol.TroopDeployed{
		PlayerID: s.Identity.ID,
		Troop:    msg.Troop,
		Gold:     room.AttackerGold,
	}, s.ID)
	return nil
}

// handleTowerPlaced 防守方蓋塔，只轉發給進攻方
func (e *Engine) handleTowerPlaced(s *session.Session, msg *protocol.ClientMessage) error {
	room, err := e.playingRoom(s)
	if err != nil {
		return err
	}
	if s.Role != protocol.RoleDefender {
		return fmt.Errorf("%w: towerPlaced from %s", errIgnored, s.Role)
	}
	if len(msg.Tower) == 0 {
		return fmt.Errorf("%w: towerPlaced without tower", ErrMalformedMessage)
	}

	room.Towers = append(room.Towers, msg.Tower)
	if msg.Gold != nil {
		room.DefenderGold = e.policy.Gold(*msg.Gold)
	}

	e.broadcast(room, protocol.TypeTowerPlaced, protocol.TowerPlaced{
		PlayerID: s.Identity.ID,
		Tower:    msg.Tower,
		Gold:     room.DefenderGold,
	}, s.ID)
	return nil
}

// handleBaseHit 基地受到傷害，廣播給整個房間，血量歸零時進攻方獲勝
func (e *Engine) handleBaseHit(s *session.Session, msg *protocol.ClientMessage) error {
	room, err := e.playingRoom(s)
	if err != nil {
		return err
	}
	if msg.BaseHP == nil {
		return fmt.Errorf("%w: baseHit without baseHP", ErrMalformedMessage)
	}

	room.BaseHP = e.policy.BaseHP(*msg.BaseHP)
	e.broadcast(room, protocol.TypeBaseHit, protocol.BaseHit{
		BaseHP: room.BaseHP,
		Damage: msg.Damage,
	}, "")

	if room.BaseHP <= 0 {
		e.resolve(room, protocol.RoleAttacker, ReasonBaseDestroyed)
	}
	return nil
}

// handleUpdateGold 覆寫自己角色的金幣並轉發給對手
func (e *Engine) handleUpdateGold(s *session.Session, msg *protocol.ClientMessage) error {
	room, err := e.currentRoom(s)
	if err != nil {
		return err
	}
	if room.Status == StatusFinished {
		return fmt.Errorf("%w: room %s is finished", errIgnored, room.Code)
	}
	if msg.Gold == nil {
		return fmt.Errorf("%w: updateGold without gold", ErrMalformedMessage)
	}

	role := msg.Role
	if role == "" {
		role = s.Role
	}
	if role != s.Role {
		return fmt.Errorf("%w: %s cannot set %s gold", errIgnored, s.Role, role)
	}

	gold := e.policy.Gold(*msg.Gold)
	room.SetGold(role, gold)

	e.broadcast(room, protocol.TypeUpdateGold, protocol.GoldUpdate{
		Role: role,
		Gold: gold,
	}, s.ID)
	return nil
}

// handleChat 房間聊天，包含發送者本人
func (e *Engine) handleChat(s *session.Session, msg *protocol.ClientMessage) error {
	room, err := e.currentRoom(s)
	if err != nil {
		return err
	}

	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return fmt.Errorf("%w: empty chat", errIgnored)
	}
	if utf8.RuneCountInString(text) > maxChatRunes {
		text = string([]rune(text)[:maxChatRunes])
	}

	e.broadcast(room, protocol.TypeChat, protocol.Chat{
		PlayerID:   s.Identity.ID,
		PlayerName: s.Identity.Username,
		Message:    text,
	}, "")
	return nil
}
