package api

import (
	"context"

	"cdpnetmon/internal/config"
	"cdpnetmon/internal/logger"
	"cdpnetmon/internal/service"
	"cdpnetmon/pkg/domain"
)

// Service 服务接口，供展示层查询与导出
type Service interface {
	// ListTargets 列出调试端口上可附加的目标
	ListTargets(ctx context.Context, port int) ([]domain.DebugTarget, error)

	// StartSession 附加目标并开始监控
	StartSession(ctx context.Context, cfg domain.SessionConfig) (domain.SessionID, error)

	// StopSession 停止会话
	StopSession(id domain.SessionID) error

	// Sessions 活动会话
	Sessions() []domain.SessionID

	// Snapshot 按过滤配置返回可见记录，按插入顺序
	Snapshot(id domain.SessionID, cfg domain.FilterConfig) ([]domain.RequestRecord, error)

	// Get 查询单条记录
	Get(id domain.SessionID, req domain.RequestID) (domain.RequestRecord, bool, error)

	// Pin 固定记录
	Pin(id domain.SessionID, req domain.RequestID) (bool, error)

	// Unpin 取消固定
	Unpin(id domain.SessionID, req domain.RequestID) (bool, error)

	// Delete 删除记录
	Delete(id domain.SessionID, reqs ...domain.RequestID) (int, error)

	// Clear 清空记录
	Clear(id domain.SessionID, keepPinned bool) (int, error)

	// SetCapacity 修改容量
	SetCapacity(id domain.SessionID, n int) error

	// Flush 立即释放缓冲区中的记录
	Flush(id domain.SessionID) (int, error)
	// Stats 会话统计
	Stats(id domain.SessionID) (domain.Stats, error)

	// Export 导出 JSON 快照
	Export(id domain.SessionID, sel domain.Selection, cfg domain.FilterConfig) ([]byte, error)

	// ExportHAR 导出 HAR 1.2
	ExportHAR(id domain.SessionID, sel domain.Selection, cfg domain.FilterConfig) ([]byte, error)

	// Archive 归档到 SQLite
	Archive(ctx context.Context, id domain.SessionID, sel domain.Selection, cfg domain.FilterConfig) (string, error)

	// ListArchives 列出归档
	ListArchives(ctx context.Context, limit int) ([]domain.ArchiveInfo, error)

	// LoadArchive 读取归档
	LoadArchive(ctx context.Context, archiveID string) ([]domain.RequestRecord, error)

	// SubscribeStatus 订阅连接状态
	SubscribeStatus(id domain.SessionID) (<-chan domain.StatusEvent, error)

	// SubscribeChanges 订阅记录变更
	SubscribeChanges(id domain.SessionID) (<-chan struct{}, error)

	// Close 停止所有会话
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger) Service {
	return service.New(cfg, l)
}
