package handler

import (
	"errors"
	"fmt"
	"sync/atomic"

	cdpadapter "cdpnetmon/internal/adapter/cdp"
	"cdpnetmon/internal/bodyfetch"
	"cdpnetmon/internal/ledger"
	"cdpnetmon/internal/logger"
	"cdpnetmon/internal/protocol"
	"cdpnetmon/pkg/domain"
)

// Sender 出站命令通道，Send 不得阻塞
type Sender interface {
	Send(frame []byte) error
}

// ReplyFunc 普通命令的回复回调，在事件循环上执行
type ReplyFunc func(f protocol.Frame)

// Handler 事件分发器，把入站帧路由到账本与响应体关联器
//
// 除计数器外，所有方法只能在事件循环上调用。
type Handler struct {
	ledger      *ledger.Ledger
	bodies      *bodyfetch.Correlator
	seq         *protocol.Sequence
	sender      Sender
	maxBodySize int
	log         logger.Logger

	calls map[int64]ReplyFunc

	malformed atomic.Uint64
	discarded atomic.Uint64
}

// Config 配置选项
type Config struct {
	Ledger      *ledger.Ledger
	Sequence    *protocol.Sequence
	Sender      Sender
	MaxBodySize int
	Logger      logger.Logger
}

// New 创建事件分发器
func New(cfg Config) *Handler {
	seq := cfg.Sequence
	if seq == nil {
		seq = &protocol.Sequence{}
	}
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Handler{
		ledger:      cfg.Ledger,
		bodies:      bodyfetch.New(seq),
		seq:         seq,
		sender:      cfg.Sender,
		maxBodySize: cfg.MaxBodySize,
		log:         l,
		calls:       make(map[int64]ReplyFunc),
	}
}

// SetSender 重连后切换到新连接
func (h *Handler) SetSender(s Sender) {
	h.sender = s
}

// Call 发送普通命令，回复到达时调用 done
func (h *Handler) Call(method string, params any, done ReplyFunc) (int64, error) {
	if h.sender == nil {
		return 0, errors.New("no sender")
	}
	id := h.seq.Next()
	frame, err := protocol.Encode(id, method, params)
	if err != nil {
		return 0, err
	}
	if done != nil {
		h.calls[id] = done
	}
	if err := h.sender.Send(frame); err != nil {
		delete(h.calls, id)
		return 0, fmt.Errorf("send %s: %w", method, err)
	}
	return id, nil
}

// HandleFrame 处理一条入站帧；无法解析的帧只记录日志
func (h *Handler) HandleFrame(b []byte) {
	f, err := protocol.Decode(b)
	if err != nil {
		h.malformed.Add(1)
		h.log.Warn("丢弃无法解析的帧", "error", err, "size", len(b))
		return
	}
	switch f.Kind {
	case protocol.KindEvent:
		h.handleEvent(f)
	case protocol.KindReply:
		h.handleReply(f)
	}
}

// Abandon 连接失效时放弃所有等待中的响应体与命令回复
func (h *Handler) Abandon(reason string) int {
	ids := h.bodies.Abandon()
	h.ledger.AbandonBodies(ids, reason)
	n := len(ids) + len(h.calls)
	h.calls = make(map[int64]ReplyFunc)
	if n > 0 {
		h.log.Info("放弃等待中的回复", "bodies", len(ids), "reason", reason)
	}
	return n
}

// BodyWaits 等待中的响应体获取数
func (h *Handler) BodyWaits() int {
	return h.bodies.Pending()
}

// Malformed 累计丢弃的无效帧数
func (h *Handler) Malformed() uint64 {
	return h.malformed.Load()
}

// Discarded 累计丢弃的过期回复数
func (h *Handler) Discarded() uint64 {
	return h.discarded.Load()
}

func (h *Handler) handleEvent(f protocol.Frame) {
	var err error
	switch f.Method {
	case protocol.EventRequestWillBeSent:
		var ev ledger.RequestStarted
		if ev, err = cdpadapter.ToRequestStarted(f.Params); err == nil {
			h.ledger.RequestStarted(ev)
		}
	case protocol.EventResponseReceived:
		var ev ledger.ResponseReceived
		if ev, err = cdpadapter.ToResponseReceived(f.Params); err == nil {
			h.ledger.ResponseReceived(ev)
		}
	case protocol.EventLoadingFinished:
		var ev ledger.LoadingFinished
		if ev, err = cdpadapter.ToLoadingFinished(f.Params); err == nil {
			if h.ledger.LoadingFinished(ev) {
				h.fetchBody(ev.ID)
			}
		}
	case protocol.EventLoadingFailed:
		var ev ledger.LoadingFailed
		if ev, err = cdpadapter.ToLoadingFailed(f.Params); err == nil {
			h.ledger.LoadingFailed(ev)
		}
	default:
		return
	}
	if err != nil {
		h.malformed.Add(1)
		h.log.Warn("丢弃无法解析的事件", "method", f.Method, "error", err)
	}
}

func (h *Handler) handleReply(f protocol.Frame) {
	if h.bodies.Owns(f.ID) {
		id, _ := h.bodies.Resolve(f.ID)
		h.applyBody(id, f)
		return
	}
	if done, ok := h.calls[f.ID]; ok {
		delete(h.calls, f.ID)
		done(f)
		return
	}
	h.discarded.Add(1)
	h.log.Debug("丢弃过期回复", "id", f.ID, "error", bodyfetch.ErrUnknownCorrelation)
}

func (h *Handler) fetchBody(id domain.RequestID) {
	if h.sender == nil {
		h.ledger.SetBody(id, bodyfetch.Unavailable("connection not ready"))
		return
	}
	token, frame, err := h.bodies.Issue(id)
	if err != nil {
		h.ledger.SetBody(id, bodyfetch.Unavailable(err.Error()))
		return
	}
	if err := h.sender.Send(frame); err != nil {
		_, _ = h.bodies.Resolve(token)
		h.ledger.SetBody(id, bodyfetch.Unavailable(err.Error()))
		h.log.Debug("发送获取响应体命令失败", "requestId", id, "error", err)
	}
}

func (h *Handler) applyBody(id domain.RequestID, f protocol.Frame) {
	if f.Error != nil {
		h.ledger.SetBody(id, bodyfetch.Unavailable(f.Error.Message))
		return
	}
	reply, err := cdpadapter.ToBodyReply(f.Result)
	if err != nil {
		h.malformed.Add(1)
		h.ledger.SetBody(id, bodyfetch.Unavailable(err.Error()))
		return
	}
	if !h.ledger.SetBody(id, bodyfetch.DecodeBody(reply, h.maxBodySize)) {
		h.log.Debug("响应体到达时记录已移出账本", "requestId", id)
	}
}
