package ingest

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"cdpnetmon/internal/ledger"
	"cdpnetmon/internal/retention"
	"cdpnetmon/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	mu      sync.Mutex
	batches [][]domain.RequestRecord
	pinned  map[domain.RequestID]bool
}

func (f *fakeTarget) Add(recs ...domain.RequestRecord) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, recs)
	return len(recs)
}

func (f *fakeTarget) IsPinned(id domain.RequestID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pinned[id]
}

func (f *fakeTarget) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func rec(i int) domain.RequestRecord {
	return domain.RequestRecord{ID: domain.RequestID(strconv.Itoa(i)), Seq: 1}
}

func TestBufferBatches(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{}
	b := New(target, Options{Batch: 100, Cap: 10000}, nil)
	for i := 0; i < 250; i++ {
		b.Push(rec(i))
	}

	assert.Equal(t, 100, b.Release())
	assert.Equal(t, 100, b.Release())
	assert.Equal(t, 50, b.Release())
	assert.Zero(t, b.Release())
	require.Len(t, target.batches, 3)
	assert.Equal(t, domain.RequestID("0"), target.batches[0][0].ID)
	assert.Equal(t, domain.RequestID("249"), target.batches[2][49].ID)
}

func TestBufferCoalesces(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{}
	b := New(target, Options{}, nil)
	first := rec(1)
	b.Push(first)
	b.Push(rec(2))
	upd := rec(1)
	upd.State = domain.StateFinished
	b.Push(upd)

	assert.Equal(t, 2, b.Len())
	pending := b.Pending()
	assert.Equal(t, domain.RequestID("1"), pending[0].ID)
	assert.Equal(t, domain.StateFinished, pending[0].State)
}

func TestBufferOverflowDropsOldestUnpinned(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{pinned: map[domain.RequestID]bool{"0": true}}
	b := New(target, Options{Cap: 3}, nil)
	for i := 0; i < 5; i++ {
		b.Push(rec(i))
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(2), b.Overflow())
	got := b.Pending()
	assert.Equal(t, []domain.RequestID{"0", "3", "4"}, []domain.RequestID{got[0].ID, got[1].ID, got[2].ID})
}

func TestBufferDiscard(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{pinned: map[domain.RequestID]bool{"1": true}}
	b := New(target, Options{}, nil)
	b.Push(rec(1))
	b.Push(rec(2))

	assert.Equal(t, 1, b.Discard(true))
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1, b.Discard(false))
	assert.Zero(t, b.Len())

	b.Push(rec(3))
	b.Push(rec(4))
	assert.Equal(t, 1, b.Remove("3"))
	b.Push(rec(4))
	assert.Equal(t, 1, b.Len())
}

func TestBufferRunFlushesOnStop(t *testing.T) {
	t.Parallel()

	target := &fakeTarget{}
	b := New(target, Options{Interval: 10 * time.Millisecond, Batch: 2}, nil)
	for i := 0; i < 5; i++ {
		b.Push(rec(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return target.total() >= 2 }, time.Second, 5*time.Millisecond)
	b.Push(rec(99))
	cancel()
	<-done

	assert.Equal(t, 6, target.total())
	assert.Zero(t, b.Len())
	for _, batch := range target.batches[:len(target.batches)-1] {
		assert.LessOrEqual(t, len(batch), 2)
	}
}

// gatedTarget blocks the first Add until gate is closed and keeps the last state per id.
type gatedTarget struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	gate    chan struct{}
	last    map[domain.RequestID]domain.RecordState
}

func (g *gatedTarget) Add(recs ...domain.RequestRecord) int {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, rec := range recs {
		g.last[rec.ID] = rec.State
	}
	return len(recs)
}

func (g *gatedTarget) IsPinned(domain.RequestID) bool { return false }

func (g *gatedTarget) state(id domain.RequestID) domain.RecordState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last[id]
}

func TestBufferReleasesInOrder(t *testing.T) {
	t.Parallel()

	target := &gatedTarget{
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
		last:    make(map[domain.RequestID]domain.RecordState),
	}
	b := New(target, Options{Batch: 10, Cap: 100}, nil)

	b.Push(domain.RequestRecord{ID: "X", Seq: 1, State: domain.StateStarted})
	released := make(chan struct{})
	go func() {
		b.Release()
		close(released)
	}()
	<-target.entered

	b.Push(domain.RequestRecord{ID: "X", Seq: 1, State: domain.StateFailed})
	flushed := make(chan struct{})
	go func() {
		b.Flush()
		close(flushed)
	}()

	select {
	case <-flushed:
		t.Fatal("flush overtook a release still writing")
	case <-time.After(50 * time.Millisecond):
	}

	close(target.gate)
	<-released
	<-flushed
	assert.Equal(t, domain.StateFailed, target.state("X"))
}

func TestLateEventsAfterClear(t *testing.T) {
	t.Parallel()

	store := retention.New(10)
	b := New(store, Options{Batch: 10, Cap: 10}, nil)
	l := ledger.New(b, ledger.Options{}, nil)

	l.RequestStarted(ledger.RequestStarted{ID: "A", Method: "GET", URL: "https://a.test/"})
	b.Flush()
	require.Equal(t, 1, store.Len())

	b.Discard(false)
	store.Clear(false)
	require.Zero(t, store.Len())

	l.ResponseReceived(ledger.ResponseReceived{ID: "A", Status: 200, MimeType: "text/plain"})
	l.LoadingFinished(ledger.LoadingFinished{ID: "A", Size: 12})
	b.Flush()

	got, ok := store.Get("A")
	require.True(t, ok, "request finishing after clear stays visible")
	assert.Equal(t, domain.StateFinished, got.State)
	require.NotNil(t, got.Status)
	assert.Equal(t, 200, *got.Status)
}
