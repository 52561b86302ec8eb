package session

import (
	"time"

	"cdpnetmon/internal/cdp"
	"cdpnetmon/pkg/domain"
)

// Session 一个业务会话，持有对应的监控管理器
type Session struct {
	ID        domain.SessionID
	Config    domain.SessionConfig
	Monitor   *cdp.Manager
	CreatedAt time.Time
}

// New 创建会话
func New(id domain.SessionID, cfg domain.SessionConfig, mon *cdp.Manager) *Session {
	return &Session{ID: id, Config: cfg, Monitor: mon, CreatedAt: time.Now()}
}
