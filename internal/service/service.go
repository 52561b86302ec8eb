package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdpnetmon/internal/cdp"
	"cdpnetmon/internal/config"
	"cdpnetmon/internal/discovery"
	"cdpnetmon/internal/export"
	"cdpnetmon/internal/logger"
	"cdpnetmon/internal/session"
	"cdpnetmon/internal/storage"
	"cdpnetmon/pkg/domain"
)

// ErrSessionNotFound 会话不存在或已停止
var ErrSessionNotFound = errors.New("session not found")

// Version 写入 HAR creator 的版本号
var Version = "dev"

// Service 查询与导出接口的实现
type Service struct {
	cfg      *config.Config
	log      logger.Logger
	sessions *session.Manager

	dbMu sync.Mutex
	db   *storage.DB
}

// New 创建服务
func New(cfg *config.Config, l logger.Logger) *Service {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{
		cfg:      cfg,
		log:      l,
		sessions: session.NewManager(l),
	}
}

// ListTargets 列出调试端口上可附加的目标；port 为 0 时使用配置端口
func (s *Service) ListTargets(ctx context.Context, port int) ([]domain.DebugTarget, error) {
	if port == 0 {
		port = s.cfg.Monitor.Port
	}
	return discovery.ListTargets(ctx, discovery.URLForPort(port))
}

// StartSession 附加目标并开始监控
func (s *Service) StartSession(ctx context.Context, cfg domain.SessionConfig) (domain.SessionID, error) {
	if cfg.DevToolsURL == "" {
		cfg.DevToolsURL = discovery.URLForPort(s.cfg.Monitor.Port)
	}
	id := session.NewID()
	mon := cdp.New(cdp.Options{
		Session:     id,
		DevToolsURL: cfg.DevToolsURL,
		Target:      cfg.Target,
		Monitor:     s.cfg.Monitor,
		Logger:      s.log,
	})
	if err := mon.Start(ctx); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	s.sessions.Add(id, cfg, mon)
	return id, nil
}

// StopSession 停止监控并注销会话
func (s *Service) StopSession(id domain.SessionID) error {
	sess, ok := s.sessions.Remove(id)
	if !ok {
		return ErrSessionNotFound
	}
	return sess.Monitor.Stop()
}

// Sessions 活动会话 ID
func (s *Service) Sessions() []domain.SessionID {
	list := s.sessions.List()
	out := make([]domain.SessionID, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.ID)
	}
	return out
}

// Snapshot 按过滤配置返回可见记录
func (s *Service) Snapshot(id domain.SessionID, cfg domain.FilterConfig) ([]domain.RequestRecord, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return nil, err
	}
	return mon.Snapshot(cfg), nil
}

// Get 查询单条记录
func (s *Service) Get(id domain.SessionID, req domain.RequestID) (domain.RequestRecord, bool, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return domain.RequestRecord{}, false, err
	}
	rec, ok := mon.Get(req)
	return rec, ok, nil
}

// Pin 固定记录，不存在的 ID 忽略
func (s *Service) Pin(id domain.SessionID, req domain.RequestID) (bool, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return false, err
	}
	return mon.Pin(req), nil
}

// Unpin 取消固定
func (s *Service) Unpin(id domain.SessionID, req domain.RequestID) (bool, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return false, err
	}
	return mon.Unpin(req), nil
}

// Delete 删除记录
func (s *Service) Delete(id domain.SessionID, reqs ...domain.RequestID) (int, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return 0, err
	}
	return mon.Delete(reqs...), nil
}

// Clear 清空记录
func (s *Service) Clear(id domain.SessionID, keepPinned bool) (int, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return 0, err
	}
	return mon.Clear(keepPinned), nil
}

// SetCapacity 修改会话容量
func (s *Service) SetCapacity(id domain.SessionID, n int) error {
	mon, err := s.monitor(id)
	if err != nil {
		return err
	}
	return mon.SetCapacity(n)
}

// Flush 把会话缓冲区中的记录立即写入存储，返回写入条数
func (s *Service) Flush(id domain.SessionID) (int, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return 0, err
	}
	return mon.Flush(), nil
}

// Stats 会话统计
func (s *Service) Stats(id domain.SessionID) (domain.Stats, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return domain.Stats{}, err
	}
	return mon.Stats(), nil
}

// Export 生成 JSON 快照文档
func (s *Service) Export(id domain.SessionID, sel domain.Selection, cfg domain.FilterConfig) ([]byte, error) {
	recs, err := s.records(id, sel, cfg)
	if err != nil {
		return nil, err
	}
	return export.Document(recs, sel, time.Now())
}

// ExportHAR 生成 HAR 1.2 文档
func (s *Service) ExportHAR(id domain.SessionID, sel domain.Selection, cfg domain.FilterConfig) ([]byte, error) {
	recs, err := s.records(id, sel, cfg)
	if err != nil {
		return nil, err
	}
	return export.MarshalHAR(recs, Version)
}

// Archive 将选定记录写入 SQLite 归档，返回归档 ID
func (s *Service) Archive(ctx context.Context, id domain.SessionID, sel domain.Selection, cfg domain.FilterConfig) (string, error) {
	recs, err := s.records(id, sel, cfg)
	if err != nil {
		return "", err
	}
	db, err := s.archive()
	if err != nil {
		return "", err
	}
	return db.SaveSnapshot(ctx, id, sel, recs)
}

// ListArchives 列出归档
func (s *Service) ListArchives(ctx context.Context, limit int) ([]domain.ArchiveInfo, error) {
	db, err := s.archive()
	if err != nil {
		return nil, err
	}
	rows, err := db.ListSnapshots(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ArchiveInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ArchiveInfo{
			ID:        r.ID,
			Session:   domain.SessionID(r.Session),
			Selection: domain.Selection(r.Selection),
			Count:     r.Count,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// LoadArchive 读取归档中的记录
func (s *Service) LoadArchive(ctx context.Context, archiveID string) ([]domain.RequestRecord, error) {
	db, err := s.archive()
	if err != nil {
		return nil, err
	}
	return db.LoadSnapshot(ctx, archiveID)
}

// SubscribeStatus 订阅连接状态
func (s *Service) SubscribeStatus(id domain.SessionID) (<-chan domain.StatusEvent, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return nil, err
	}
	return mon.Events(), nil
}

// SubscribeChanges 订阅记录变更，多次变更合并通知
func (s *Service) SubscribeChanges(id domain.SessionID) (<-chan struct{}, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return nil, err
	}
	return mon.Changes(), nil
}

// Close 停止所有会话并关闭归档库
func (s *Service) Close() error {
	var errs []error
	for _, sess := range s.sessions.List() {
		if err := s.StopSession(sess.ID); err != nil {
			errs = append(errs, err)
		}
	}
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	return errors.Join(errs...)
}

func (s *Service) monitor(id domain.SessionID) (*cdp.Manager, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess.Monitor, nil
}

func (s *Service) records(id domain.SessionID, sel domain.Selection, cfg domain.FilterConfig) ([]domain.RequestRecord, error) {
	mon, err := s.monitor(id)
	if err != nil {
		return nil, err
	}
	return mon.Records(sel, cfg)
}

// archive 首次使用时打开归档库
func (s *Service) archive() (*storage.DB, error) {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := storage.Open(s.cfg.Sqlite, s.log)
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}
