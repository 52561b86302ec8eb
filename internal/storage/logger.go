package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"cdpnetmon/internal/config"
	"cdpnetmon/internal/ctxkeys"
	applog "cdpnetmon/internal/logger"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// sqlLogger 归档库的 SQL 日志，写入应用日志并带上 traceId
type sqlLogger struct {
	log   applog.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newSQLLogger(l applog.Logger, cfg config.SqliteConfig) *sqlLogger {
	slow := time.Duration(cfg.SlowMS) * time.Millisecond
	if cfg.SlowMS == 0 {
		slow = 500 * time.Millisecond
	}
	return &sqlLogger{log: l, level: sqlLevel(cfg.LogLevel), slow: slow}
}

// sqlLevel 解析 sqlite.logLevel，默认只记录失败与慢查询
func sqlLevel(s string) gormlogger.LogLevel {
	switch strings.ToLower(s) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func (l *sqlLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *sqlLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.Info("归档库: "+msg, l.fields(ctx, "data", data)...)
	}
}

func (l *sqlLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Warn("归档库: "+msg, l.fields(ctx, "data", data)...)
	}
}

func (l *sqlLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.Error("归档库: "+msg, l.fields(ctx, "data", data)...)
	}
}

// Trace 记录一条语句；快照不存在属于正常查询结果，不记为失败
func (l *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := l.slow > 0 && elapsed > l.slow
	if !failed && !slow && l.level < gormlogger.Info {
		return
	}

	sql, rows := fc()
	fields := l.fields(ctx, "sql", sql, "rows", rows, "elapsed", elapsed.String())
	switch {
	case failed && l.level >= gormlogger.Error:
		l.log.Err(err, "归档库语句执行失败", fields...)
	case slow && l.level >= gormlogger.Warn:
		l.log.Warn("归档库慢查询", append(fields, "threshold", l.slow.String())...)
	case l.level >= gormlogger.Info:
		l.log.Debug("归档库语句", fields...)
	}
}

func (l *sqlLogger) fields(ctx context.Context, kv ...any) []any {
	return append([]any{"component", "archive", "traceId", ctxkeys.TraceID(ctx)}, kv...)
}
