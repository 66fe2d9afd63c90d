package infra

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/config"
	"github.com/huanghuoguoguo/langbot-plugin-sdk/internal/logger"
)

// OpenPostgres 打开 PostgreSQL 连接（元数据库或 pgvector 存储共用）
func OpenPostgres(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取 SQL DB 失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	logger.Info("数据库连接成功",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.DBName),
	)
	return db, nil
}

// OpenCatalogDB 打开知识库元数据库。
// 配置了 PostgreSQL 时使用，否则退回本地 SQLite 文件。
func OpenCatalogDB(cfg *config.DatabaseConfig, sqlitePath string) (*gorm.DB, error) {
	if cfg.DBName != "" {
		return OpenPostgres(cfg)
	}
	db, err := gorm.Open(sqlite.Open(sqlitePath), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("打开本地元数据库失败: %w", err)
	}
	logger.Info("使用本地 SQLite 元数据库", zap.String("path", sqlitePath))
	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: &GormZapLogger{
			ZapLogger:                 logger.Get(),
			LogLevel:                  gormLogger.Warn,
			SlowThreshold:             200 * time.Millisecond,
			IgnoreRecordNotFoundError: true,
		},
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}
