package storage

import (
	"errors"
	"fmt"

	"cdpnetmon/internal/config"
	"cdpnetmon/internal/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// ErrSnapshotNotFound 归档快照不存在
var ErrSnapshotNotFound = errors.New("snapshot not found")

// DB 归档数据库
type DB struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开（必要时创建）SQLite 归档库并迁移表结构
func Open(cfg config.SqliteConfig, l logger.Logger) (*DB, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if cfg.Dsn == "" {
		return nil, errors.New("sqlite dsn is empty")
	}
	gdb, err := gorm.Open(sqlite.Open(cfg.Dsn), &gorm.Config{
		Logger:         newSQLLogger(l, cfg),
		NamingStrategy: schema.NamingStrategy{TablePrefix: cfg.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Dsn, err)
	}
	if err := gdb.AutoMigrate(&SnapshotRow{}, &RequestRow{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	l.Info("归档数据库已打开", "dsn", cfg.Dsn)
	return &DB{db: gdb, log: l}, nil
}

// Close 关闭底层连接
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
