package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"cdpnetmon/internal/config"
	"cdpnetmon/internal/ctxkeys"
	"cdpnetmon/internal/logger"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func query() (string, int64) { return "SELECT 1", 1 }

func TestSQLLoggerTrace(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := newSQLLogger(logger.FromZerolog(zerolog.New(&buf)), config.SqliteConfig{})
	ctx := ctxkeys.WithTraceID(context.Background(), "trace-1")

	l.Trace(ctx, time.Now(), query, errors.New("boom"))
	line := buf.Bytes()
	assert.Equal(t, "trace-1", gjson.GetBytes(line, "traceId").String())
	assert.Equal(t, "archive", gjson.GetBytes(line, "component").String())
	assert.Equal(t, "SELECT 1", gjson.GetBytes(line, "sql").String())
	assert.Equal(t, "error", gjson.GetBytes(line, "level").String())
	assert.Equal(t, "boom", gjson.GetBytes(line, "error").String())

	t.Run("record_not_found_is_quiet", func(t *testing.T) {
		buf.Reset()
		l.Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)
		assert.Zero(t, buf.Len())
	})

	t.Run("silent", func(t *testing.T) {
		buf.Reset()
		l.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), query, errors.New("boom"))
		assert.Zero(t, buf.Len())
	})

	t.Run("fast_query_at_warn", func(t *testing.T) {
		buf.Reset()
		l.Trace(ctx, time.Now(), query, nil)
		assert.Zero(t, buf.Len())
	})

	t.Run("slow_query", func(t *testing.T) {
		buf.Reset()
		l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
		assert.Equal(t, "warn", gjson.GetBytes(buf.Bytes(), "level").String())
		assert.Equal(t, "500ms", gjson.GetBytes(buf.Bytes(), "threshold").String())
	})
}

func TestSQLLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, gormlogger.Silent, sqlLevel("silent"))
	assert.Equal(t, gormlogger.Error, sqlLevel("ERROR"))
	assert.Equal(t, gormlogger.Info, sqlLevel("debug"))
	assert.Equal(t, gormlogger.Warn, sqlLevel(""))
}
