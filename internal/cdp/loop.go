package cdp

import (
	"context"
	"fmt"
	"time"

	"cdpnetmon/internal/conn"
)

// loop 唯一修改账本与关联器的 goroutine，退出时释放缓冲区剩余记录
func (m *Manager) loop(ctx context.Context, c *conn.Conn) error {
	// Abandon 产生的更新由这里写入存储
	defer m.buffer.Flush()

	var sweepC <-chan time.Time
	if d := m.opts.Monitor.AbandonAfter(); d > 0 {
		every := d / 2
		if every < time.Second {
			every = time.Second
		}
		t := time.NewTicker(every)
		defer t.Stop()
		sweepC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = c.Close()
			m.handler.Abandon("monitoring stopped")
			m.gauges()
			return nil

		case b, ok := <-c.Frames():
			if ok {
				m.handler.HandleFrame(b)
				m.gauges()
				continue
			}
			cause := c.Err()
			_ = c.Close()
			m.handler.Abandon("connection lost")
			m.gauges()
			if ctx.Err() != nil {
				return nil
			}
			m.emit(StatusFailed, "调试连接中断", cause)
			next, err := m.reconnect(ctx)
			if err != nil {
				m.log.Err(err, "放弃重连")
				m.emit(StatusStopped, "监控已停止", err)
				return nil
			}
			c = next

		case now := <-sweepC:
			if m.ledger.Sweep(now) > 0 {
				m.gauges()
			}
		}
	}
}

// reconnect 按指数退避重新连接同一目标，成功后重新开启 Network 域
func (m *Manager) reconnect(ctx context.Context) (*conn.Conn, error) {
	rc := m.opts.Monitor.Reconnect
	if rc.MaxAttempts <= 0 {
		return nil, fmt.Errorf("reconnect disabled")
	}
	delay := time.Duration(rc.InitialMS) * time.Millisecond
	maxDelay := time.Duration(rc.MaxMS) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		m.emit(StatusReconnecting, fmt.Sprintf("第 %d/%d 次重连", attempt, rc.MaxAttempts), lastErr)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		c, err := m.dial(ctx)
		if err == nil {
			if err = m.enable(c); err == nil {
				m.reconnects.Add(1)
				m.log.Info("重连成功", "attempt", attempt)
				return c, nil
			}
			_ = c.Close()
		}
		lastErr = err
		m.log.Warn("重连失败", "attempt", attempt, "error", err)

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, fmt.Errorf("reconnect failed after %d attempts: %w", rc.MaxAttempts, lastErr)
}

func (m *Manager) gauges() {
	m.inFlight.Store(int64(m.ledger.InFlight()))
	m.bodyWaits.Store(int64(m.handler.BodyWaits()))
}
