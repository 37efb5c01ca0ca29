// Package config 載入塔防對戰伺服器的配置。
//
// 載入順序（後者覆蓋前者）：
//  1. Default() 預設值
//  2. YAML 配置檔（可選）
//  3. .env 檔案與環境變數
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	WebSocket struct {
		MaxMessageSize int64    `yaml:"max_message_size"`
		SendBuffer     int      `yaml:"send_buffer"`
		RateLimit      int64    `yaml:"rate_limit"` // 每秒允許的訊息數
		RateBurst      int64    `yaml:"rate_burst"`
		AllowedOrigins []string `yaml:"allowed_origins"` // 空 = 全部允許
	} `yaml:"websocket"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"postgres"`

	Redis struct {
		Enabled      bool          `yaml:"enabled"`
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		CacheTTL     time.Duration `yaml:"cache_ttl"`
	} `yaml:"redis"`

	NATS struct {
		URL           string `yaml:"url"` // 空 = 不發布事件
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Game struct {
		GracePeriod      time.Duration `yaml:"grace_period"`
		GameDuration     time.Duration `yaml:"game_duration"`
		LingerDuration   time.Duration `yaml:"linger_duration"`
		InitialGold      int           `yaml:"initial_gold"`
		InitialBaseHP    int           `yaml:"initial_base_hp"`
		LeaderboardLimit int           `yaml:"leaderboard_limit"`
		OpenMatchesLimit int           `yaml:"open_matches_limit"`
		BcryptCost       int           `yaml:"bcrypt_cost"`
	} `yaml:"game"`

	Maintenance struct {
		SweepInterval time.Duration `yaml:"sweep_interval"`
		StaleAfter    time.Duration `yaml:"stale_after"`
		WarmInterval  time.Duration `yaml:"warm_interval"`
	} `yaml:"maintenance"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default 返回預設配置
//
// 遊戲數值沿用線上版本：寬限期 60 秒、對局 60 秒、結束後 5 秒刪除房間。
func Default() *Config {
	c := &Config{}

	c.Server.Host = ""
	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second

	c.WebSocket.MaxMessageSize = 64 * 1024
	c.WebSocket.SendBuffer = 256
	c.WebSocket.RateLimit = 40
	c.WebSocket.RateBurst = 80

	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.User = "postgres"
	c.Postgres.DBName = "tower_defense"
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2
	c.Postgres.Migrate = true

	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 10
	c.Redis.ReadTimeout = 3 * time.Second
	c.Redis.WriteTimeout = 3 * time.Second
	c.Redis.CacheTTL = 30 * time.Second

	c.NATS.StreamName = "MATCH_EVENTS"
	c.NATS.SubjectPrefix = "matches"

	c.Game.GracePeriod = 60 * time.Second
	c.Game.GameDuration = 60 * time.Second
	c.Game.LingerDuration = 5 * time.Second
	c.Game.InitialGold = 1000
	c.Game.InitialBaseHP = 100
	c.Game.LeaderboardLimit = 10
	c.Game.OpenMatchesLimit = 20
	c.Game.BcryptCost = 10

	c.Maintenance.SweepInterval = 5 * time.Minute
	c.Maintenance.StaleAfter = 2 * time.Hour
	c.Maintenance.WarmInterval = time.Minute

	c.Log.Level = "info"
	c.Log.Format = "text"

	return c
}

// Load 從 YAML 檔與環境變數載入配置
//
// path 為空或檔案不存在時只使用預設值與環境變數。
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("解析配置檔失敗: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
	}

	// .env 不存在是正常情況（容器環境直接注入變數）
	_ = godotenv.Load()

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// applyEnv 套用環境變數覆蓋
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT 格式錯誤: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate 檢查配置是否合法
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("無效的端口: %d", c.Server.Port)
	}

	durations := map[string]time.Duration{
		"game.grace_period":    c.Game.GracePeriod,
		"game.game_duration":   c.Game.GameDuration,
		"game.linger_duration": c.Game.LingerDuration,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s 必須大於 0", name)
		}
	}

	if c.Game.InitialBaseHP <= 0 {
		return fmt.Errorf("game.initial_base_hp 必須大於 0")
	}
	if c.Game.InitialGold < 0 {
		return fmt.Errorf("game.initial_gold 不能為負數")
	}
	if c.Game.LeaderboardLimit <= 0 || c.Game.OpenMatchesLimit <= 0 {
		return fmt.Errorf("排行榜與房間列表上限必須大於 0")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer 必須大於 0")
	}

	return nil
}

// Addr 返回 HTTP 監聽地址
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// PostgresURL 生成 PostgreSQL 連線 URL
//
// 使用 URL 格式而非 key=value，golang-migrate 與 pgxpool 都能解析。
func (c *Config) PostgresURL() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
