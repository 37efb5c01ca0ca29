// Package maintenance 以 gocron 執行背景維護任務。
//
//   - 清理殘留記錄：伺服器重啟後，記憶體中的房間消失，
//     資料庫裡 waiting/playing 的記錄永遠不會結束。定期將
//     建立超過 StaleAfter 且不在記憶體中的記錄標記為 finished（reason "Stale"）。
//   - 排行榜預熱：定期重新載入 Redis 中的排行榜快取。
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/itzluthfi/tower-defense/internal/game"
	"github.com/itzluthfi/tower-defense/internal/store"
)

// LiveMatches 提供記憶體中仍存在的對局
type LiveMatches interface {
	LiveMatchIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Warmer 可預熱的排行榜快取
type Warmer interface {
	Warm(ctx context.Context, limit int) error
}

// Config 維護任務配置
type Config struct {
	SweepInterval    time.Duration
	StaleAfter       time.Duration
	WarmInterval     time.Duration
	LeaderboardLimit int
	Timeout          time.Duration // 單次任務逾時
}

// Jobs 維護任務
type Jobs struct {
	config    Config
	live      LiveMatches
	matches   store.MatchStore
	warmer    Warmer // nil = 沒有快取
	logger    *slog.Logger
	scheduler gocron.Scheduler
}

// New 創建維護任務，warmer 可以為 nil
func New(config Config, live LiveMatches, matches store.MatchStore, warmer Warmer, logger *slog.Logger) *Jobs {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Jobs{
		config:  config,
		live:    live,
		matches: matches,
		warmer:  warmer,
		logger:  logger,
	}
}

// Start 註冊並啟動排程
func (j *Jobs) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("創建排程器失敗: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(j.config.SweepInterval),
		gocron.NewTask(j.runSweep),
		gocron.WithName("sweep_stale_matches"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("註冊清理任務失敗: %w", err)
	}

	if j.warmer != nil {
		_, err = scheduler.NewJob(
			gocron.DurationJob(j.config.WarmInterval),
			gocron.NewTask(j.runWarm),
			gocron.WithName("warm_leaderboard"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("註冊預熱任務失敗: %w", err)
		}
	}

	scheduler.Start()
	j.scheduler = scheduler

	j.logger.Info("維護任務已啟動",
		"sweep_interval", j.config.SweepInterval,
		"stale_after", j.config.StaleAfter,
		"warm", j.warmer != nil)
	return nil
}

// Stop 停止排程並等待執行中的任務
func (j *Jobs) Stop() error {
	if j.scheduler == nil {
		return nil
	}
	scheduler := j.scheduler
	j.scheduler = nil
	if err := scheduler.Shutdown(); err != nil {
		return fmt.Errorf("停止排程器失敗: %w", err)
	}
	return nil
}

// SweepStale 結束過期且不在記憶體中的未完成記錄，返回處理筆數
func (j *Jobs) SweepStale(ctx context.Context) (int64, error) {
	live, err := j.live.LiveMatchIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("讀取進行中對局失敗: %w", err)
	}

	before := time.Now().Add(-j.config.StaleAfter)
	swept, err := j.matches.SweepStale(ctx, before, live, game.ReasonStale)
	if err != nil {
		return 0, fmt.Errorf("清理過期記錄失敗: %w", err)
	}
	return swept, nil
}

// WarmLeaderboard 重新載入排行榜快取
func (j *Jobs) WarmLeaderboard(ctx context.Context) error {
	if j.warmer == nil {
		return nil
	}
	return j.warmer.Warm(ctx, j.config.LeaderboardLimit)
}

func (j *Jobs) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), j.config.Timeout)
	defer cancel()

	swept, err := j.SweepStale(ctx)
	if err != nil {
		j.logger.Error("清理任務失敗", "error", err)
		return
	}
	if swept > 0 {
		j.logger.Info("已結束殘留的對局記錄", "count", swept)
	}
}

func (j *Jobs) runWarm() {
	ctx, cancel := context.WithTimeout(context.Background(), j.config.Timeout)
	defer cancel()

	if err := j.WarmLeaderboard(ctx); err != nil {
		j.logger.Warn("排行榜預熱失敗", "error", err)
	}
}
