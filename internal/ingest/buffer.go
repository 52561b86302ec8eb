package ingest

import (
	"context"
	"sync"
	"time"

	"cdpnetmon/internal/logger"
	"cdpnetmon/pkg/domain"
)

// Target 批量接收记录的下游存储
type Target interface {
	Add(recs ...domain.RequestRecord) int
	IsPinned(id domain.RequestID) bool
}

// Options 缓冲参数
type Options struct {
	Interval time.Duration
	Batch    int
	// Cap 待释放记录的上限，通常与存储容量一致
	Cap int
}

// Buffer 收集账本的记录更新，按固定节奏分批交给存储
type Buffer struct {
	// release 保证取批与写入存储按同一顺序完成
	release  sync.Mutex
	mu       sync.Mutex
	opts     Options
	target   Target
	log      logger.Logger
	pending  []domain.RequestRecord
	index    map[domain.RequestID]int
	overflow uint64
}

// New 创建缓冲
func New(target Target, opts Options, l logger.Logger) *Buffer {
	if opts.Interval <= 0 {
		opts.Interval = 300 * time.Millisecond
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Cap <= 0 {
		opts.Cap = 1000
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Buffer{
		opts:   opts,
		target: target,
		log:    l,
		index:  make(map[domain.RequestID]int),
	}
}

// Push 加入一条更新；同 ID 尚未释放时原位替换
func (b *Buffer) Push(rec domain.RequestRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i, ok := b.index[rec.ID]; ok {
		b.pending[i] = rec
		return
	}
	b.index[rec.ID] = len(b.pending)
	b.pending = append(b.pending, rec)
	if len(b.pending) > b.opts.Cap {
		b.shedLocked(len(b.pending) - b.opts.Cap)
	}
}

// Release 释放一批记录，返回释放条数
func (b *Buffer) Release() int {
	return b.deliver(b.opts.Batch)
}

// Flush 释放全部待处理记录
func (b *Buffer) Flush() int {
	return b.deliver(-1)
}

func (b *Buffer) deliver(n int) int {
	b.release.Lock()
	defer b.release.Unlock()
	batch := b.take(n)
	if len(batch) == 0 {
		return 0
	}
	b.target.Add(batch...)
	return len(batch)
}

// Run 按间隔释放，直到 ctx 结束；退出前释放剩余记录
func (b *Buffer) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return nil
		case <-ticker.C:
			b.Release()
		}
	}
}

// Pending 返回尚未释放的记录副本
func (b *Buffer) Pending() []domain.RequestRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.RequestRecord, 0, len(b.pending))
	for i := range b.pending {
		out = append(out, b.pending[i].Clone())
	}
	return out
}

// Discard 丢弃待释放记录；keepPinned 为 true 时保留已固定记录的更新
func (b *Buffer) Discard(keepPinned bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.pending[:0]
	n := 0
	for _, rec := range b.pending {
		if keepPinned && b.target.IsPinned(rec.ID) {
			kept = append(kept, rec)
			continue
		}
		n++
	}
	b.reset(kept)
	return n
}

// Remove 丢弃指定 ID 的待释放记录
func (b *Buffer) Remove(ids ...domain.RequestID) int {
	drop := make(map[domain.RequestID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.pending[:0]
	n := 0
	for _, rec := range b.pending {
		if _, ok := drop[rec.ID]; ok {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	b.reset(kept)
	return n
}

// Overflow 因超过上限被丢弃的累计条数
func (b *Buffer) Overflow() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}

// Len 待释放条数
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// SetCap 修改上限
func (b *Buffer) SetCap(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts.Cap = n
	if len(b.pending) > n {
		b.shedLocked(len(b.pending) - n)
	}
}

func (b *Buffer) take(n int) []domain.RequestRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	if n < 0 || n > len(b.pending) {
		n = len(b.pending)
	}
	batch := make([]domain.RequestRecord, n)
	copy(batch, b.pending[:n])
	rest := append([]domain.RequestRecord(nil), b.pending[n:]...)
	b.reset(rest)
	return batch
}

// shedLocked 从最旧处丢弃未固定的待释放记录
func (b *Buffer) shedLocked(excess int) {
	kept := b.pending[:0]
	dropped := 0
	for _, rec := range b.pending {
		if dropped < excess && !b.target.IsPinned(rec.ID) {
			dropped++
			continue
		}
		kept = append(kept, rec)
	}
	b.reset(kept)
	if dropped > 0 {
		b.overflow += uint64(dropped)
		b.log.Warn("缓冲区已满，丢弃最旧的记录", "dropped", dropped, "overflow", b.overflow)
	}
}

func (b *Buffer) reset(kept []domain.RequestRecord) {
	for i := len(kept); i < len(b.pending); i++ {
		b.pending[i] = domain.RequestRecord{}
	}
	b.pending = kept
	b.index = make(map[domain.RequestID]int, len(kept))
	for i := range kept {
		b.index[kept[i].ID] = i
	}
}
