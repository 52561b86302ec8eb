package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 统一日志接口，参数以 key/value 成对传入
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Err(err error, msg string, args ...any)
	With(args ...any) Logger
}

// Options 日志构建参数
type Options struct {
	Level      string
	Writer     []string
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Console 控制台输出目标，默认 os.Stderr
	Console io.Writer
}

// ZeroLogger 基于 zerolog 的 Logger 实现
type ZeroLogger struct {
	z      zerolog.Logger
	closer io.Closer
}

// New 根据配置创建日志器，Writer 支持 console 与 file
func New(opts Options) *ZeroLogger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	var (
		writers []io.Writer
		closer  io.Closer
	)
	for _, w := range opts.Writer {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05.000"})
		case "file":
			name := opts.File
			if name == "" {
				name = "logs/cdpnetmon.log"
			}
			lj := &lumberjack.Logger{
				Filename:   name,
				MaxSize:    orDefault(opts.MaxSizeMB, 20),
				MaxBackups: orDefault(opts.MaxBackups, 5),
				LocalTime:  true,
			}
			writers = append(writers, lj)
			closer = lj
		}
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05.000"})
	}

	z := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &ZeroLogger{z: z, closer: closer}
}

// FromZerolog 包装已有的 zerolog.Logger
func FromZerolog(z zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{z: z}
}

// NewNop 创建丢弃所有输出的日志器
func NewNop() Logger {
	return &ZeroLogger{z: zerolog.Nop()}
}

func (l *ZeroLogger) Debug(msg string, args ...any) { l.z.Debug().Fields(args).Msg(msg) }

func (l *ZeroLogger) Info(msg string, args ...any) { l.z.Info().Fields(args).Msg(msg) }

func (l *ZeroLogger) Warn(msg string, args ...any) { l.z.Warn().Fields(args).Msg(msg) }

func (l *ZeroLogger) Error(msg string, args ...any) { l.z.Error().Fields(args).Msg(msg) }

// Err 记录带错误对象的错误日志
func (l *ZeroLogger) Err(err error, msg string, args ...any) {
	l.z.Error().Err(err).Fields(args).Msg(msg)
}

// With 返回附带固定字段的子日志器
func (l *ZeroLogger) With(args ...any) Logger {
	return &ZeroLogger{z: l.z.With().Fields(args).Logger(), closer: l.closer}
}

// Close 关闭文件输出
func (l *ZeroLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
