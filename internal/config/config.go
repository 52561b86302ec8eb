package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string        `yaml:"version"`
	Sqlite  SqliteConfig  `yaml:"sqlite"`
	Log     LogConfig     `yaml:"log"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// SqliteConfig 归档数据库配置
type SqliteConfig struct {
	Dsn    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"`
	// LogLevel SQL 日志级别：silent、error、warn、info
	LogLevel string `yaml:"logLevel"`
	// SlowMS 慢查询阈值，0 取默认值，负数关闭
	SlowMS int `yaml:"slowMS"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string   `yaml:"level"`
	Writer     []string `yaml:"writer"`
	File       string   `yaml:"file"`
	MaxSizeMB  int      `yaml:"maxSizeMB"`
	MaxBackups int      `yaml:"maxBackups"`
}

// MonitorConfig 监控会话配置
type MonitorConfig struct {
	Port            int             `yaml:"port"`
	Capacity        int             `yaml:"capacity"`
	BatchIntervalMS int             `yaml:"batchIntervalMS"`
	BatchSize       int             `yaml:"batchSize"`
	LedgerHistory   int             `yaml:"ledgerHistory"`
	AbandonAfterMS  int             `yaml:"abandonAfterMS"`
	MaxBodySize     int             `yaml:"maxBodySize"`
	PingIntervalMS  int             `yaml:"pingIntervalMS"`
	PingTimeoutMS   int             `yaml:"pingTimeoutMS"`
	SendQueue       int             `yaml:"sendQueue"`
	Reconnect       ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig 断线重连策略，MaxAttempts 为 0 表示不重连
type ReconnectConfig struct {
	MaxAttempts int `yaml:"maxAttempts"`
	InitialMS   int `yaml:"initialMS"`
	MaxMS       int `yaml:"maxMS"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: SqliteConfig{
			Dsn:      "db.sqlite3",
			Prefix:   "cdpnetmon_",
			LogLevel: "warn",
			SlowMS:   500,
		},
		Log: LogConfig{
			Level:  "info",
			Writer: []string{"console"},
			File:   "logs/cdpnetmon.log",
		},
		Monitor: MonitorConfig{
			Port:            9222,
			Capacity:        1000,
			BatchIntervalMS: 300,
			BatchSize:       100,
			LedgerHistory:   1000,
			MaxBodySize:     2 << 20,
			PingIntervalMS:  20000,
			PingTimeoutMS:   10000,
			SendQueue:       256,
			Reconnect: ReconnectConfig{
				MaxAttempts: 5,
				InitialMS:   500,
				MaxMS:       5000,
			},
		},
	}
}

// Load 读取 yaml 配置文件并覆盖默认值，path 为空时直接返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	m := c.Monitor
	var errs []error
	if m.Port <= 0 || m.Port > 65535 {
		errs = append(errs, fmt.Errorf("monitor.port out of range: %d", m.Port))
	}
	if m.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("monitor.capacity must be positive: %d", m.Capacity))
	}
	if m.BatchIntervalMS <= 0 || m.BatchSize <= 0 {
		errs = append(errs, errors.New("monitor.batchIntervalMS and monitor.batchSize must be positive"))
	}
	if m.PingTimeoutMS <= 0 || m.PingTimeoutMS >= m.PingIntervalMS {
		errs = append(errs, fmt.Errorf("monitor.pingTimeoutMS (%d) must be positive and shorter than pingIntervalMS (%d)", m.PingTimeoutMS, m.PingIntervalMS))
	}
	if m.AbandonAfterMS < 0 {
		errs = append(errs, errors.New("monitor.abandonAfterMS must not be negative"))
	}
	if m.Reconnect.MaxAttempts > 0 && (m.Reconnect.InitialMS <= 0 || m.Reconnect.MaxMS < m.Reconnect.InitialMS) {
		errs = append(errs, errors.New("monitor.reconnect backoff must satisfy 0 < initialMS <= maxMS"))
	}
	return errors.Join(errs...)
}

// BatchInterval 批量释放间隔
func (m MonitorConfig) BatchInterval() time.Duration {
	return time.Duration(m.BatchIntervalMS) * time.Millisecond
}

// PingInterval 心跳间隔
func (m MonitorConfig) PingInterval() time.Duration {
	return time.Duration(m.PingIntervalMS) * time.Millisecond
}

// PingTimeout 心跳超时
func (m MonitorConfig) PingTimeout() time.Duration {
	return time.Duration(m.PingTimeoutMS) * time.Millisecond
}

// AbandonAfter 未完成请求的放弃阈值，0 表示关闭
func (m MonitorConfig) AbandonAfter() time.Duration {
	return time.Duration(m.AbandonAfterMS) * time.Millisecond
}
