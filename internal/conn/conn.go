package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cdpnetmon/internal/logger"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotReady 连接不处于 Open 状态时发送
	ErrNotReady = errors.New("connection not ready")
	// ErrConnectionLost 连接意外中断（读写失败或心跳超时）
	ErrConnectionLost = errors.New("connection lost")
	// ErrSendQueueFull 发送队列已满，帧未被接收
	ErrSendQueueFull = errors.New("send queue full")
)

// State 连接状态
type State int32

const (
	Connecting State = iota
	Open
	Closing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options 连接参数
type Options struct {
	PingInterval     time.Duration
	PingTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	SendQueue        int
	FrameQueue       int
	// OnState 每次状态变化时回调，在连接内部 goroutine 上执行，不得阻塞
	OnState func(State, error)
}

// DefaultOptions 默认连接参数
func DefaultOptions() Options {
	return Options{
		PingInterval:     20 * time.Second,
		PingTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		SendQueue:        256,
		FrameQueue:       1024,
	}
}

// Validate 心跳超时必须严格小于心跳间隔
func (o Options) Validate() error {
	if o.PingInterval <= 0 || o.PingTimeout <= 0 {
		return errors.New("ping interval and timeout must be positive")
	}
	if o.PingTimeout >= o.PingInterval {
		return fmt.Errorf("ping timeout %s must be shorter than ping interval %s", o.PingTimeout, o.PingInterval)
	}
	return nil
}

func (o *Options) fill() {
	d := DefaultOptions()
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.SendQueue <= 0 {
		o.SendQueue = d.SendQueue
	}
	if o.FrameQueue <= 0 {
		o.FrameQueue = d.FrameQueue
	}
}

// Conn 与单个调试目标的持久 WebSocket 连接，独占底层 socket
type Conn struct {
	endpoint string
	opts     Options
	ws       *websocket.Conn
	log      logger.Logger

	state        atomic.Int32
	lastActivity atomic.Int64

	frames  chan []byte
	out     chan []byte
	done    chan struct{}
	closing chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial 建立连接并启动读写 goroutine
func Dial(ctx context.Context, endpoint string, opts Options, l logger.Logger) (*Conn, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.fill()
	if l == nil {
		l = logger.NewNop()
	}
	c := &Conn{
		endpoint: endpoint,
		opts:     opts,
		log:      l.With("endpoint", endpoint),
		frames:   make(chan []byte, opts.FrameQueue),
		out:      make(chan []byte, opts.SendQueue),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	c.setState(Connecting, nil)

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		err = fmt.Errorf("dial %s: %w", endpoint, err)
		c.setErr(err)
		c.setState(Failed, err)
		close(c.done)
		close(c.frames)
		return nil, err
	}
	c.ws = ws
	c.touch()
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	c.setState(Open, nil)
	c.log.Info("调试连接已建立")

	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// Endpoint 连接地址
func (c *Conn) Endpoint() string { return c.endpoint }

// State 当前状态
func (c *Conn) State() State { return State(c.state.Load()) }

// LastActivity 最近一次收到数据（含 pong）的时间
func (c *Conn) LastActivity() time.Time { return time.Unix(0, c.lastActivity.Load()) }

// Frames 入站文本帧，连接结束后关闭
func (c *Conn) Frames() <-chan []byte { return c.frames }

// Done 读循环退出后关闭
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err 意外中断的原因，正常关闭时为 nil
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send 将一帧放入发送队列；非 Open 状态返回 ErrNotReady，队列满返回 ErrSendQueueFull
func (c *Conn) Send(frame []byte) error {
	if c.State() != Open {
		return ErrNotReady
	}
	select {
	case <-c.closing:
		return ErrNotReady
	default:
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close 有序关闭连接，等待读循环退出
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.state.CompareAndSwap(int32(Open), int32(Closing)) {
			c.notify(Closing, nil)
		}
		close(c.closing)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()

		select {
		case <-c.done:
		case <-time.After(c.opts.WriteTimeout):
			c.log.Warn("等待读循环退出超时")
		}
		if c.state.CompareAndSwap(int32(Closing), int32(Closed)) {
			c.notify(Closed, nil)
		}
		c.log.Info("调试连接已关闭", "state", c.State().String())
	})
	return nil
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.frames)
		close(c.done)
	}()
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		c.touch()
		if typ != websocket.TextMessage {
			continue
		}
		select {
		case c.frames <- data:
		case <-c.closing:
			c.fail(nil)
			return
		}
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	var (
		pongTimer *time.Timer
		pongC     <-chan time.Time
		pingSent  time.Time
	)
	defer func() {
		if pongTimer != nil {
			pongTimer.Stop()
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case <-c.closing:
			return
		case frame := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.fail(err)
				return
			}
		case <-ticker.C:
			pingSent = time.Now()
			if err := c.ws.WriteControl(websocket.PingMessage, nil, pingSent.Add(c.opts.PingTimeout)); err != nil {
				c.fail(err)
				return
			}
			if pongTimer == nil {
				pongTimer = time.NewTimer(c.opts.PingTimeout)
			} else {
				pongTimer.Reset(c.opts.PingTimeout)
			}
			pongC = pongTimer.C
		case <-pongC:
			pongC = nil
			if c.LastActivity().Before(pingSent) {
				c.fail(fmt.Errorf("no pong within %s", c.opts.PingTimeout))
				return
			}
		}
	}
}

// fail 处理读写错误：Open 状态转为 Failed，Closing 状态转为 Closed
func (c *Conn) fail(cause error) {
	if c.state.CompareAndSwap(int32(Open), int32(Failed)) {
		err := fmt.Errorf("%w: %v", ErrConnectionLost, cause)
		c.setErr(err)
		c.log.Warn("调试连接中断", "error", cause)
		c.notify(Failed, err)
		_ = c.ws.Close()
		return
	}
	if c.state.CompareAndSwap(int32(Closing), int32(Closed)) {
		c.notify(Closed, nil)
	}
}

func (c *Conn) setState(s State, err error) {
	c.state.Store(int32(s))
	c.notify(s, err)
}

func (c *Conn) notify(s State, err error) {
	if c.opts.OnState != nil {
		c.opts.OnState(s, err)
	}
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}
