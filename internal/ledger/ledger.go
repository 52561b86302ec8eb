package ledger

import (
	"container/list"
	"fmt"
	"strings"
	"time"

	"cdpnetmon/internal/logger"
	"cdpnetmon/pkg/domain"
	"cdpnetmon/pkg/traffic"
)

// Sink 接收每次变更后的记录副本
type Sink interface {
	Push(rec domain.RequestRecord)
}

// Options 账本参数
type Options struct {
	// History 已结算记录（终态且响应体已有结果）的保留条数，用于迟到事件的字段合并
	History int
	// AbandonAfter 未完成记录超过该时长后由 Sweep 置为 Abandoned，0 表示关闭
	AbandonAfter time.Duration
	// Now 本地时钟，耗时只用本地时钟计算
	Now func() time.Time
}

// Ledger 请求状态机。所有方法只能在同一个 goroutine 上调用
type Ledger struct {
	opts    Options
	sink    Sink
	log     logger.Logger
	records map[domain.RequestID]*domain.RequestRecord
	settled *list.List
	index   map[domain.RequestID]*list.Element
	seq     uint64
}

// New 创建账本
func New(sink Sink, opts Options, l logger.Logger) *Ledger {
	if opts.History <= 0 {
		opts.History = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Ledger{
		opts:    opts,
		sink:    sink,
		log:     l,
		records: make(map[domain.RequestID]*domain.RequestRecord),
		settled: list.New(),
		index:   make(map[domain.RequestID]*list.Element),
	}
}

// RequestStarted 创建记录或合并请求字段；同 ID 的重定向追加跳转记录
func (l *Ledger) RequestStarted(ev RequestStarted) {
	rec, created := l.lookup(ev.ID)
	if !created && ev.Redirect != nil {
		if !sameRedirect(rec, ev) {
			rec.Redirects = append(rec.Redirects, domain.Redirect{URL: rec.URL, Status: ev.Redirect.Status})
		}
	}
	rec.Method = ev.Method
	rec.URL = ev.URL
	if ev.ResourceType != "" {
		rec.ResourceType = ev.ResourceType
	}
	rec.Initiator = ev.Initiator
	if ev.Headers != nil {
		rec.RequestHeaders = ev.Headers
	}
	if ev.Cookies != nil {
		rec.RequestCookies = ev.Cookies
	}
	if ev.Body != nil {
		rec.RequestBody = ev.Body
	}
	rec.Synthetic = false
	l.commit(rec)
}

// ResponseReceived 记录响应头，状态推进到 ResponseReceived
func (l *Ledger) ResponseReceived(ev ResponseReceived) {
	rec, _ := l.lookup(ev.ID)
	status := ev.Status
	rec.Status = &status
	rec.StatusText = ev.StatusText
	rec.MimeType = ev.MimeType
	if ev.ResourceType != "" && rec.ResourceType == "" {
		rec.ResourceType = ev.ResourceType
	}
	if ev.Headers != nil {
		rec.ResponseHeaders = ev.Headers
	}
	if ev.Cookies != nil {
		rec.ResponseCookies = ev.Cookies
	}
	advance(rec, domain.StateResponseReceived)
	l.commit(rec)
}

// LoadingFinished 进入 Finished 终态，返回是否需要获取响应体
func (l *Ledger) LoadingFinished(ev LoadingFinished) bool {
	rec, _ := l.lookup(ev.ID)
	if rec.State.Terminal() {
		if rec.Size == nil {
			size := ev.Size
			rec.Size = &size
		}
		l.commit(rec)
		return false
	}

	now := l.opts.Now()
	d := now.Sub(rec.StartedAt)
	if d < 0 {
		d = 0
	}
	size := ev.Size
	rec.Duration = &d
	rec.Size = &size
	advance(rec, domain.StateFinished)

	fetch := bodyExpected(rec)
	if fetch {
		rec.ResponseBody = traffic.Body{Kind: traffic.BodyPending}
	}
	l.commit(rec)
	return fetch
}

// LoadingFailed 进入 Failed 终态，不获取响应体
func (l *Ledger) LoadingFailed(ev LoadingFailed) {
	rec, _ := l.lookup(ev.ID)
	if rec.ErrorText == "" {
		rec.ErrorText = ev.ErrorText
	}
	if ev.Canceled {
		rec.Canceled = true
	}
	if ev.ResourceType != "" && rec.ResourceType == "" {
		rec.ResourceType = ev.ResourceType
	}
	if !rec.State.Terminal() {
		d := l.opts.Now().Sub(rec.StartedAt)
		if d < 0 {
			d = 0
		}
		rec.Duration = &d
		advance(rec, domain.StateFailed)
	}
	l.commit(rec)
}

// SetBody 合并响应体；记录已不在账本中时返回 false
func (l *Ledger) SetBody(id domain.RequestID, body traffic.Body) bool {
	rec, ok := l.records[id]
	if !ok {
		return false
	}
	rec.ResponseBody = body
	l.commit(rec)
	return true
}

// AbandonBodies 将仍在等待的响应体标记为不可用
func (l *Ledger) AbandonBodies(ids []domain.RequestID, reason string) {
	for _, id := range ids {
		rec, ok := l.records[id]
		if !ok || rec.ResponseBody.Kind != traffic.BodyPending {
			continue
		}
		rec.ResponseBody = traffic.Body{Kind: traffic.BodyUnavailable, Reason: reason}
		l.commit(rec)
	}
}

// Sweep 将超过 AbandonAfter 仍未完成的记录置为 Abandoned，返回处理条数
func (l *Ledger) Sweep(now time.Time) int {
	if l.opts.AbandonAfter <= 0 {
		return 0
	}
	n := 0
	for _, rec := range l.records {
		if rec.State.Terminal() || now.Sub(rec.StartedAt) < l.opts.AbandonAfter {
			continue
		}
		d := now.Sub(rec.StartedAt)
		rec.Duration = &d
		rec.ErrorText = fmt.Sprintf("no events for %s", l.opts.AbandonAfter)
		advance(rec, domain.StateAbandoned)
		l.commit(rec)
		n++
	}
	if n > 0 {
		l.log.Info("清理长时间未完成的请求", "count", n)
	}
	return n
}

// Get 返回记录副本
func (l *Ledger) Get(id domain.RequestID) (domain.RequestRecord, bool) {
	rec, ok := l.records[id]
	if !ok {
		return domain.RequestRecord{}, false
	}
	return rec.Clone(), true
}

// InFlight 尚未结算的记录数
func (l *Ledger) InFlight() int {
	return len(l.records) - l.settled.Len()
}

// Len 账本中的记录总数
func (l *Ledger) Len() int {
	return len(l.records)
}

// lookup 取记录，不存在时按需创建合成的 Started 记录
func (l *Ledger) lookup(id domain.RequestID) (*domain.RequestRecord, bool) {
	if rec, ok := l.records[id]; ok {
		return rec, false
	}
	l.seq++
	now := l.opts.Now()
	rec := &domain.RequestRecord{
		ID:        id,
		Seq:       l.seq,
		State:     domain.StateStarted,
		StartedAt: now,
		Synthetic: true,
	}
	l.records[id] = rec
	return rec, true
}

// commit 推送副本并维护已结算队列
func (l *Ledger) commit(rec *domain.RequestRecord) {
	rec.UpdatedAt = l.opts.Now()
	if l.sink != nil {
		l.sink.Push(rec.Clone())
	}
	if !rec.State.Terminal() || !rec.ResponseBody.Settled() {
		return
	}
	if _, ok := l.index[rec.ID]; ok {
		return
	}
	l.index[rec.ID] = l.settled.PushBack(rec.ID)
	for l.settled.Len() > l.opts.History {
		front := l.settled.Front()
		id := front.Value.(domain.RequestID)
		l.settled.Remove(front)
		delete(l.index, id)
		delete(l.records, id)
	}
}

// advance 状态只能前进
func advance(rec *domain.RequestRecord, to domain.RecordState) {
	if to.Rank() > rec.State.Rank() {
		rec.State = to
	}
}

func sameRedirect(rec *domain.RequestRecord, ev RequestStarted) bool {
	if rec.URL != ev.URL || len(rec.Redirects) == 0 {
		return false
	}
	last := rec.Redirects[len(rec.Redirects)-1]
	return last.Status == ev.Redirect.Status
}

// bodyExpected 判断响应是否可能携带响应体
func bodyExpected(rec *domain.RequestRecord) bool {
	if strings.EqualFold(rec.Method, "HEAD") {
		return false
	}
	if rec.Status == nil {
		return true
	}
	switch s := *rec.Status; {
	case s < 200, s == 204, s == 205, s == 304:
		return false
	}
	return true
}
