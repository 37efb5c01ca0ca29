package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeaderboardKey 排行榜快取的 Redis key（hash：limit → JSON）
const LeaderboardKey = "leaderboard:trophies"

// CachedLeaderboard 以 Redis 旁路快取（Cache-Aside）包裝 AccountStore
//
// 讀：先查 Redis，未命中再查資料庫並回填。
// 寫：RecordMatchOutcome 寫資料庫前後各刪一次快取，下次讀取重新載入。
//
// Redis 故障時直接讀寫資料庫，排行榜只是變慢而不是失效。
type CachedLeaderboard struct {
	AccountStore
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedLeaderboard 創建排行榜快取
func NewCachedLeaderboard(accounts AccountStore, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedLeaderboard {
	return &CachedLeaderboard{
		AccountStore: accounts,
		redis:        client,
		ttl:          ttl,
		logger:       logger,
	}
}

// GetLeaderboard 讀取排行榜
func (c *CachedLeaderboard) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	field := strconv.Itoa(limit)

	// 1. 查詢快取
	data, err := c.redis.HGet(ctx, LeaderboardKey, field).Bytes()
	switch {
	case err == nil:
		var entries []LeaderboardEntry
		jsonErr := json.Unmarshal(data, &entries)
		if jsonErr == nil {
			return entries, nil
		}
		c.logger.Warn("排行榜快取格式錯誤", "error", jsonErr)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("讀取排行榜快取失敗", "error", err)
	}

	// 2. 快取未命中，查詢資料庫
	entries, err := c.AccountStore.GetLeaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}

	// 3. 寫入快取
	c.fill(ctx, field, entries)

	return entries, nil
}

// RecordMatchOutcome 更新戰績並刪除快取
//
// 寫入期間的讀取可能以舊戰績回填快取，所以寫入後再刪一次。
func (c *CachedLeaderboard) RecordMatchOutcome(ctx context.Context, attackerID, defenderID int64, attackerWon bool) error {
	c.Invalidate(ctx)
	err := c.AccountStore.RecordMatchOutcome(ctx, attackerID, defenderID, attackerWon)
	c.Invalidate(ctx)
	return err
}

// Invalidate 刪除所有排行榜快取
func (c *CachedLeaderboard) Invalidate(ctx context.Context) {
	if err := c.redis.Del(ctx, LeaderboardKey).Err(); err != nil {
		c.logger.Warn("刪除排行榜快取失敗", "error", err)
	}
}

// Warm 從資料庫重新載入排行榜（定時任務）
func (c *CachedLeaderboard) Warm(ctx context.Context, limit int) error {
	entries, err := c.AccountStore.GetLeaderboard(ctx, limit)
	if err != nil {
		return err
	}
	c.fill(ctx, strconv.Itoa(limit), entries)
	return nil
}

func (c *CachedLeaderboard) fill(ctx context.Context, field string, entries []LeaderboardEntry) {
	data, err := json.Marshal(entries)
	if err != nil {
		c.logger.Error("序列化排行榜失敗", "error", err)
		return
	}

	pipe := c.redis.TxPipeline()
	pipe.HSet(ctx, LeaderboardKey, field, data)
	pipe.Expire(ctx, LeaderboardKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("寫入排行榜快取失敗", "error", err)
	}
}
