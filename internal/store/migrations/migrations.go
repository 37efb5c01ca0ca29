// Package migrations 管理塔防對戰 users / matches 兩張表的 schema。
//
// SQL 檔以 embed 打包進執行檔，伺服器啟動時（postgres.migrate = true）
// 執行 Up；schema 版本比程式預期的新時拒絕啟動，避免舊版本寫入新 schema。
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed all:migrations
var migrationsFS embed.FS

// SchemaVersion 程式碼對應的 schema 版本（最後一個遷移檔的編號）
const SchemaVersion uint = 2

// ErrSchemaAhead 資料庫的 schema 比程式碼新
var ErrSchemaAhead = errors.New("database schema is newer than this server")

// Migrator 對局資料庫的 schema 遷移
type Migrator struct {
	migrate *migrate.Migrate
	logger  *slog.Logger
}

// New 建立遷移管理器，databaseURL 必須是 postgres:// 格式
func New(databaseURL string, logger *slog.Logger) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("載入對局 schema 檔失敗: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("連接對局資料庫失敗: %w", err)
	}

	return &Migrator{
		migrate: m,
		logger:  logger.With("component", "migrations"),
	}, nil
}

// Up 將 users / matches 升級到 SchemaVersion
func (m *Migrator) Up() error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: database v%d, server v%d", ErrSchemaAhead, version, SchemaVersion)
	}

	if dirty {
		// 上次遷移中斷，標記回該版本後重跑
		m.logger.Warn("對局 schema 處於中斷狀態，強制標記後重跑", "version", version)
		if version > math.MaxInt32 {
			return fmt.Errorf("schema 版本號超出範圍: %d", version)
		}
		if err := m.migrate.Force(int(version)); err != nil {
			return fmt.Errorf("標記 schema 版本 %d 失敗: %w", version, err)
		}
	}

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("對局 schema 已是最新", "version", version)
			return nil
		}
		return fmt.Errorf("升級對局 schema 失敗: %w", err)
	}

	m.logger.Info("對局 schema 已升級", "from", version, "to", SchemaVersion)
	return nil
}

// Down 回滾最後一個遷移（只用於開發與測試）
func (m *Migrator) Down() error {
	if err := m.migrate.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("回滾對局 schema 失敗: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info("對局 schema 已回滾", "version", version)
	return nil
}

// Version 返回目前的 schema 版本，尚未遷移時為 0
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("讀取 schema 版本失敗: %w", err)
	}
	return version, dirty, nil
}

// Close 釋放 SQL 檔來源與資料庫連線
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}
