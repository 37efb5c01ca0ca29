package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/itzluthfi/tower-defense/internal/config"
	"github.com/itzluthfi/tower-defense/internal/events"
	"github.com/itzluthfi/tower-defense/internal/game"
	"github.com/itzluthfi/tower-defense/internal/handler"
	"github.com/itzluthfi/tower-defense/internal/maintenance"
	"github.com/itzluthfi/tower-defense/internal/store"
	"github.com/itzluthfi/tower-defense/internal/store/migrations"
	"github.com/itzluthfi/tower-defense/internal/ws"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "config.yaml", "配置檔路徑")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)，覆蓋配置檔")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)，覆蓋配置檔")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("載入配置失敗", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	// 設置日誌
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.Error("服務器異常退出", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()
	hasher := store.NewBcryptHasher(cfg.Game.BcryptCost)

	// 1. 持久化：PostgreSQL 或記憶體
	var (
		accounts store.AccountStore
		matches  store.MatchStore
		pool     *pgxpool.Pool
		checkers = map[string]handler.Checker{}
	)
	if cfg.Postgres.Enabled {
		dsn := cfg.PostgresURL()

		if cfg.Postgres.Migrate {
			if err := migrate(dsn, logger); err != nil {
				return err
			}
		}

		var err error
		pool, err = store.OpenPool(ctx, dsn, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := store.NewPostgres(pool, hasher, logger)
		accounts, matches = pg, pg
		checkers["postgres"] = pg.Ping
		logger.Info("使用 PostgreSQL 存儲")
	} else {
		mem := store.NewMemory(hasher)
		accounts, matches = mem, mem
		logger.Warn("未啟用 PostgreSQL，使用記憶體存儲（重啟後資料消失）")
	}

	// 2. 排行榜快取
	var warmer maintenance.Warmer
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer func() { _ = client.Close() }()

		if err := client.Ping(ctx).Err(); err != nil {
			// 排行榜快取故障時降級為直接讀資料庫
			logger.Warn("Redis 無法連線，排行榜快取將持續重試", "addr", cfg.Redis.Addr, "error", err)
		}

		cached := store.NewCachedLeaderboard(accounts, client, cfg.Redis.CacheTTL, logger)
		accounts, warmer = cached, cached
		checkers["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("排行榜快取已啟用", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	// 3. 事件發布
	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		js, err := events.NewJetStream(cfg.NATS.URL, events.Config{
			StreamName:    cfg.NATS.StreamName,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			return err
		}
		publisher = js
		logger.Info("對局事件發布已啟用", "url", cfg.NATS.URL, "stream", cfg.NATS.StreamName)
	}
	defer func() { _ = publisher.Close() }()

	// 4. 對局引擎
	gameConfig := game.DefaultConfig()
	gameConfig.GracePeriod = cfg.Game.GracePeriod
	gameConfig.GameDuration = cfg.Game.GameDuration
	gameConfig.LingerDuration = cfg.Game.LingerDuration
	gameConfig.InitialGold = cfg.Game.InitialGold
	gameConfig.InitialBaseHP = cfg.Game.InitialBaseHP
	gameConfig.LeaderboardLimit = cfg.Game.LeaderboardLimit
	gameConfig.OpenMatchesLimit = cfg.Game.OpenMatchesLimit

	engine := game.New(gameConfig, accounts, matches, hasher, logger, game.WithPublisher(publisher))
	defer engine.Stop()

	// 5. 背景維護任務
	jobs := maintenance.New(maintenance.Config{
		SweepInterval:    cfg.Maintenance.SweepInterval,
		StaleAfter:       cfg.Maintenance.StaleAfter,
		WarmInterval:     cfg.Maintenance.WarmInterval,
		LeaderboardLimit: cfg.Game.LeaderboardLimit,
	}, engine, matches, warmer, logger)
	if err := jobs.Start(); err != nil {
		return err
	}

	// 6. HTTP 與 WebSocket
	wsConfig := ws.DefaultConfig()
	wsConfig.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	wsConfig.SendBuffer = cfg.WebSocket.SendBuffer
	wsConfig.RateLimit = cfg.WebSocket.RateLimit
	wsConfig.RateBurst = cfg.WebSocket.RateBurst
	wsConfig.AllowedOrigins = cfg.WebSocket.AllowedOrigins
	hub := ws.NewHub(engine, wsConfig, logger)

	api := handler.NewHandler(engine, logger)
	for name, check := range checkers {
		api.AddChecker(name, check)
	}

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", api.Routes())
	mux.HandleFunc("GET /ws", hub.ServeWS)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("塔防對戰服務器啟動",
			"addr", server.Addr,
			"postgres", cfg.Postgres.Enabled,
			"redis", cfg.Redis.Enabled,
			"nats", cfg.NATS.URL != "")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("收到關閉信號，開始優雅關閉...")
	case err := <-serverErr:
		logger.Error("服務器啟動失敗", "error", err)
	}

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 關閉所有 WebSocket 連線（觸發斷線處理）
	hub.Stop()

	if err := jobs.Stop(); err != nil {
		logger.Error("停止維護任務失敗", "error", err)
	}

	// 其餘資源由 defer 依序釋放：引擎（等待背景寫入）、事件、Redis、資料庫
	logger.Info("服務器已關閉")
	return nil
}

// migrate 執行資料庫遷移
func migrate(dsn string, logger *slog.Logger) error {
	migrator, err := migrations.New(dsn, logger)
	if err != nil {
		return err
	}
	defer func() { _ = migrator.Close() }()

	return migrator.Up()
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var logHandler slog.Handler
	if format == "json" {
		logHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(logHandler)
}
