package retention

import (
	"sync"

	"cdpnetmon/internal/filter"
	"cdpnetmon/pkg/domain"
)

const defaultTombstones = 4096

// Store 按插入顺序保存记录，固定的记录不参与容量淘汰
type Store struct {
	mu       sync.RWMutex
	capacity int
	order    []domain.RequestID
	records  map[domain.RequestID]domain.RequestRecord
	pinned   map[domain.RequestID]struct{}
	graves   *tombstones
	evicted  uint64
	changes  chan struct{}
}

// New 创建存储，capacity 为未固定记录的上限
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1000
	}
	n := capacity * 4
	if n < defaultTombstones {
		n = defaultTombstones
	}
	return &Store{
		capacity: capacity,
		records:  make(map[domain.RequestID]domain.RequestRecord),
		pinned:   make(map[domain.RequestID]struct{}),
		graves:   newTombstones(n),
		changes:  make(chan struct{}, 1),
	}
}

// Add 插入或原位更新记录，随后按容量淘汰
//
// 已删除或已淘汰的 ID 不会被迟到的更新重新创建；
// 同 ID 但序号不同、状态更靠前或更新时间更早的记录视为过期副本并忽略。
func (s *Store) Add(recs ...domain.RequestRecord) int {
	if len(recs) == 0 {
		return 0
	}
	s.mu.Lock()
	applied := 0
	for i := range recs {
		rec := recs[i]
		if old, ok := s.records[rec.ID]; ok {
			if stale(old, rec) {
				continue
			}
			s.records[rec.ID] = rec
			applied++
			continue
		}
		if s.graves.has(rec.ID) {
			continue
		}
		s.records[rec.ID] = rec
		s.order = append(s.order, rec.ID)
		applied++
	}
	s.evictLocked()
	s.mu.Unlock()
	if applied > 0 {
		s.notify()
	}
	return applied
}

// Pin 固定记录；ID 不存在时忽略
func (s *Store) Pin(id domain.RequestID) bool {
	s.mu.Lock()
	_, ok := s.records[id]
	if ok {
		s.pinned[id] = struct{}{}
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// Unpin 取消固定，随后可能触发淘汰
func (s *Store) Unpin(id domain.RequestID) bool {
	s.mu.Lock()
	_, ok := s.pinned[id]
	if ok {
		delete(s.pinned, id)
		s.evictLocked()
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// IsPinned 是否已固定
func (s *Store) IsPinned(id domain.RequestID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pinned[id]
	return ok
}

// Pinned 已固定的 ID，按插入顺序
func (s *Store) Pinned() []domain.RequestID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RequestID, 0, len(s.pinned))
	for _, id := range s.order {
		if _, ok := s.pinned[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// EvictBeyondCapacity 淘汰最旧的未固定记录，返回淘汰条数
func (s *Store) EvictBeyondCapacity() int {
	s.mu.Lock()
	n := s.evictLocked()
	s.mu.Unlock()
	if n > 0 {
		s.notify()
	}
	return n
}

// SetCapacity 修改容量并立即淘汰
func (s *Store) SetCapacity(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	s.capacity = n
	evicted := s.evictLocked()
	s.mu.Unlock()
	if evicted > 0 {
		s.notify()
	}
	return evicted
}

// Capacity 当前容量
func (s *Store) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// Snapshot 按插入顺序返回通过过滤的记录副本
func (s *Store) Snapshot(cfg domain.FilterConfig) []domain.RequestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RequestRecord, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		if filter.Passes(rec, cfg) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// All 按插入顺序返回全部记录副本
func (s *Store) All() []domain.RequestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RequestRecord, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		out = append(out, rec.Clone())
	}
	return out
}

// PinnedRecords 返回已固定记录副本
func (s *Store) PinnedRecords() []domain.RequestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RequestRecord, 0, len(s.pinned))
	for _, id := range s.order {
		if _, ok := s.pinned[id]; ok {
			rec := s.records[id]
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Get 返回记录副本
func (s *Store) Get(id domain.RequestID) (domain.RequestRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.RequestRecord{}, false
	}
	return rec.Clone(), true
}

// Delete 删除记录并取消固定，返回实际删除条数；尚未入库的 ID 同样不会再被创建
func (s *Store) Delete(ids ...domain.RequestID) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[domain.RequestID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	n := s.removeLocked(true, func(id domain.RequestID) bool {
		_, ok := drop[id]
		return ok
	})
	for id := range drop {
		delete(s.pinned, id)
		s.graves.add(id)
	}
	s.mu.Unlock()
	if n > 0 {
		s.notify()
	}
	return n
}

// Clear 清空存储；keepPinned 为 true 时保留仍存在的固定记录，其余固定 ID 丢弃
//
// 清空不写墓碑，清空时仍在进行的请求完成后会重新出现。
func (s *Store) Clear(keepPinned bool) int {
	s.mu.Lock()
	n := s.removeLocked(false, func(id domain.RequestID) bool {
		if !keepPinned {
			return true
		}
		_, ok := s.pinned[id]
		return !ok
	})
	if keepPinned {
		for id := range s.pinned {
			if _, ok := s.records[id]; !ok {
				delete(s.pinned, id)
			}
		}
	} else {
		s.pinned = make(map[domain.RequestID]struct{})
	}
	s.mu.Unlock()
	s.notify()
	return n
}

// Len 记录总数（含固定）
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Evicted 累计淘汰条数
func (s *Store) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// Changes 变更通知，多次变更合并为一次
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// evictLocked 未固定记录超过容量时从最旧处淘汰
func (s *Store) evictLocked() int {
	unpinned := len(s.order) - len(s.pinned)
	excess := unpinned - s.capacity
	if excess <= 0 {
		return 0
	}
	n := s.removeLocked(true, func(id domain.RequestID) bool {
		if excess == 0 {
			return false
		}
		if _, ok := s.pinned[id]; ok {
			return false
		}
		excess--
		return true
	})
	s.evicted += uint64(n)
	return n
}

// removeLocked 按顺序删除满足条件的记录，bury 为 true 时写入墓碑
func (s *Store) removeLocked(bury bool, match func(domain.RequestID) bool) int {
	kept := s.order[:0]
	n := 0
	for _, id := range s.order {
		if match(id) {
			delete(s.records, id)
			if bury {
				s.graves.add(id)
			}
			n++
			continue
		}
		kept = append(kept, id)
	}
	for i := len(kept); i < len(s.order); i++ {
		s.order[i] = ""
	}
	s.order = kept
	return n
}

// stale 判断 next 是否比已保存的 cur 旧
func stale(cur, next domain.RequestRecord) bool {
	if cur.Seq != next.Seq {
		return true
	}
	if next.State.Rank() < cur.State.Rank() {
		return true
	}
	return next.UpdatedAt.Before(cur.UpdatedAt)
}

// tombstones 固定大小的环形集合
type tombstones struct {
	ring []domain.RequestID
	set  map[domain.RequestID]struct{}
	next int
}

func newTombstones(n int) *tombstones {
	return &tombstones{ring: make([]domain.RequestID, n), set: make(map[domain.RequestID]struct{}, n)}
}

func (t *tombstones) add(id domain.RequestID) {
	if _, ok := t.set[id]; ok {
		return
	}
	if old := t.ring[t.next]; old != "" {
		delete(t.set, old)
	}
	t.ring[t.next] = id
	t.set[id] = struct{}{}
	t.next = (t.next + 1) % len(t.ring)
}

func (t *tombstones) has(id domain.RequestID) bool {
	_, ok := t.set[id]
	return ok
}
