package session

import (
	"sort"
	"sync"

	"cdpnetmon/internal/cdp"
	"cdpnetmon/internal/logger"
	"cdpnetmon/pkg/domain"

	"github.com/google/uuid"
)

// Manager 全局会话管理器
type Manager struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[domain.SessionID]*Session),
		log:      l,
	}
}

// NewID 生成会话 ID
func NewID() domain.SessionID {
	return domain.SessionID(uuid.NewString())
}

// Add 注册已启动的会话
func (m *Manager) Add(id domain.SessionID, cfg domain.SessionConfig, mon *cdp.Manager) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := New(id, cfg, mon)
	m.sessions[id] = s
	m.log.Info("创建业务会话", "sessionID", string(id))
	return s
}

// Get 获取会话
func (m *Manager) Get(id domain.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove 注销会话并返回它
func (m *Manager) Remove(id domain.SessionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.log.Info("销毁业务会话", "sessionID", string(id))
	}
	return s, ok
}

// List 返回所有活动会话，按创建时间排序
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}
