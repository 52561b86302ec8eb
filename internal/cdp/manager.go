package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cdpnetmon/internal/config"
	"cdpnetmon/internal/conn"
	"cdpnetmon/internal/discovery"
	"cdpnetmon/internal/handler"
	"cdpnetmon/internal/ingest"
	"cdpnetmon/internal/ledger"
	"cdpnetmon/internal/logger"
	"cdpnetmon/internal/protocol"
	"cdpnetmon/internal/retention"
	"cdpnetmon/pkg/domain"

	"golang.org/x/sync/errgroup"
)

// 会话状态，随 StatusEvent 推送
const (
	StatusIdle         = "idle"
	StatusConnecting   = "connecting"
	StatusMonitoring   = "monitoring"
	StatusReconnecting = "reconnecting"
	StatusFailed       = "failed"
	StatusStopped      = "stopped"
)

// ErrAlreadyStarted 重复启动
var ErrAlreadyStarted = errors.New("monitoring already started")

// Options 管理器参数
type Options struct {
	Session     domain.SessionID
	DevToolsURL string
	Target      domain.TargetID
	Monitor     config.MonitorConfig
	Logger      logger.Logger
	// Now 账本使用的本地时钟，测试可替换
	Now func() time.Time
}

// Manager 一个监控会话：发现目标、建立连接、单循环处理事件、分批入库
type Manager struct {
	opts Options
	log  logger.Logger

	store   *retention.Store
	buffer  *ingest.Buffer
	ledger  *ledger.Ledger
	handler *handler.Handler
	seq     protocol.Sequence

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	target  domain.DebugTarget
	started bool

	events     chan domain.StatusEvent
	state      atomic.Value
	up         atomic.Bool
	reconnects atomic.Int32
	inFlight   atomic.Int64
	bodyWaits  atomic.Int64
}

// New 创建管理器
func New(opts Options) *Manager {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	mon := opts.Monitor
	m := &Manager{
		opts:   opts,
		log:    l.With("session", string(opts.Session)),
		store:  retention.New(mon.Capacity),
		events: make(chan domain.StatusEvent, 64),
	}
	m.buffer = ingest.New(m.store, ingest.Options{
		Interval: mon.BatchInterval(),
		Batch:    mon.BatchSize,
		Cap:      mon.Capacity,
	}, m.log)
	m.ledger = ledger.New(m.buffer, ledger.Options{
		History:      mon.LedgerHistory,
		AbandonAfter: mon.AbandonAfter(),
		Now:          opts.Now,
	}, m.log)
	m.handler = handler.New(handler.Config{
		Ledger:      m.ledger,
		Sequence:    &m.seq,
		MaxBodySize: mon.MaxBodySize,
		Logger:      m.log,
	})
	m.state.Store(StatusIdle)
	return m
}

// Start 发现目标、建立连接并开启 Network 域，随后在后台处理事件
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	m.emit(StatusConnecting, "查询调试目标", nil)

	targets, err := discovery.ListTargets(ctx, m.opts.DevToolsURL)
	if err != nil {
		m.emit(StatusFailed, "目标发现失败", err)
		return err
	}
	target, err := discovery.Pick(targets, m.opts.Target)
	if err != nil {
		m.emit(StatusFailed, "没有可附加的目标", err)
		return err
	}
	m.target = target
	m.log.Info("选择调试目标", "target", target.ID, "title", target.Title, "url", target.URL)

	c, err := m.dial(ctx)
	if err != nil {
		m.emit(StatusFailed, "连接调试目标失败", err)
		return err
	}
	if err := m.enable(c); err != nil {
		_ = c.Close()
		m.emit(StatusFailed, "开启网络监控失败", err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return m.buffer.Run(gctx) })
	g.Go(func() error { return m.loop(gctx, c) })
	m.cancel = cancel
	m.group = g
	m.started = true
	return nil
}

// Stop 关闭连接并等待处理循环退出，未完成的响应体获取全部作废
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	m.cancel()
	err := m.group.Wait()
	m.started = false
	m.up.Store(false)
	m.emit(StatusStopped, "监控已停止", nil)
	return err
}

// Events 状态通知；消费过慢时丢弃
func (m *Manager) Events() <-chan domain.StatusEvent {
	return m.events
}

// State 当前会话状态
func (m *Manager) State() string {
	return m.state.Load().(string)
}

// Target 已附加的目标
func (m *Manager) Target() domain.DebugTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Changes 存储变更通知
func (m *Manager) Changes() <-chan struct{} {
	return m.store.Changes()
}

// Snapshot 按插入顺序返回当前可见的记录
func (m *Manager) Snapshot(cfg domain.FilterConfig) []domain.RequestRecord {
	return m.store.Snapshot(cfg)
}

// Get 查询单条记录，存储中没有时查找缓冲区
func (m *Manager) Get(id domain.RequestID) (domain.RequestRecord, bool) {
	if rec, ok := m.store.Get(id); ok {
		return rec, true
	}
	for _, rec := range m.buffer.Pending() {
		if rec.ID == id {
			return rec, true
		}
	}
	return domain.RequestRecord{}, false
}

// Pin 固定记录；记录尚在缓冲区时先释放再固定
func (m *Manager) Pin(id domain.RequestID) bool {
	if m.store.Pin(id) {
		return true
	}
	m.buffer.Flush()
	return m.store.Pin(id)
}

// Flush 立即把缓冲区中的记录写入存储
func (m *Manager) Flush() int {
	return m.buffer.Flush()
}

// Unpin 取消固定
func (m *Manager) Unpin(id domain.RequestID) bool {
	return m.store.Unpin(id)
}

// Delete 删除记录，缓冲区中的待释放副本一并丢弃
func (m *Manager) Delete(ids ...domain.RequestID) int {
	n := m.buffer.Remove(ids...)
	return n + m.store.Delete(ids...)
}

// Clear 清空记录，keepPinned 为 true 时保留固定记录
func (m *Manager) Clear(keepPinned bool) int {
	n := m.buffer.Discard(keepPinned)
	return n + m.store.Clear(keepPinned)
}

// SetCapacity 运行时修改容量
func (m *Manager) SetCapacity(n int) error {
	if n <= 0 {
		return fmt.Errorf("capacity must be positive: %d", n)
	}
	m.buffer.SetCap(n)
	evicted := m.store.SetCapacity(n)
	m.log.Info("容量已更新", "capacity", n, "evicted", evicted)
	return nil
}

// Records 按导出范围取记录，读取前先释放缓冲区
func (m *Manager) Records(sel domain.Selection, cfg domain.FilterConfig) ([]domain.RequestRecord, error) {
	m.buffer.Flush()
	switch sel {
	case domain.SelectPinned:
		return m.store.PinnedRecords(), nil
	case domain.SelectVisible:
		return m.store.Snapshot(cfg), nil
	case domain.SelectAll:
		return m.store.All(), nil
	default:
		return nil, fmt.Errorf("unknown selection %q", sel)
	}
}

// Stats 运行统计
func (m *Manager) Stats() domain.Stats {
	return domain.Stats{
		Stored:       m.store.Len(),
		Pinned:       len(m.store.Pinned()),
		Pending:      m.buffer.Len(),
		InFlight:     int(m.inFlight.Load()),
		BodyWaits:    int(m.bodyWaits.Load()),
		Overflow:     m.buffer.Overflow(),
		Evicted:      m.store.Evicted(),
		Malformed:    m.handler.Malformed(),
		Reconnects:   int(m.reconnects.Load()),
		ConnectionUp: m.up.Load(),
	}
}

func (m *Manager) dial(ctx context.Context) (*conn.Conn, error) {
	mon := m.opts.Monitor
	opts := conn.DefaultOptions()
	opts.PingInterval = mon.PingInterval()
	opts.PingTimeout = mon.PingTimeout()
	if mon.SendQueue > 0 {
		opts.SendQueue = mon.SendQueue
	}
	opts.OnState = func(s conn.State, err error) {
		m.up.Store(s == conn.Open)
		if s == conn.Failed && err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("连接状态变化", "state", s.String(), "error", err)
		}
	}
	return conn.Dial(ctx, m.target.WebSocketURL, opts, m.log)
}

// enable 发送 Network.enable，回复在处理循环上确认
func (m *Manager) enable(c *conn.Conn) error {
	m.handler.SetSender(c)
	_, err := m.handler.Call(protocol.MethodNetworkEnable, nil, func(f protocol.Frame) {
		if f.Error != nil {
			m.emit(StatusFailed, "Network.enable 失败", f.Error)
			return
		}
		m.emit(StatusMonitoring, "正在监控 "+m.target.URL, nil)
	})
	return err
}

func (m *Manager) emit(state, msg string, err error) {
	m.state.Store(state)
	evt := domain.StatusEvent{
		Session:   m.opts.Session,
		Target:    m.target.ID,
		State:     state,
		Message:   msg,
		Timestamp: time.Now().UnixMilli(),
	}
	if err != nil {
		evt.Error = err.Error()
	}
	select {
	case m.events <- evt:
	default:
	}
}
