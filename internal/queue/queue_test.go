package queue

import (
	"context"
	"testing"
	"time"

	"openchrome/internal/core"
)

func TestFIFOOrdering(t *testing.T) {
	m := NewManager()
	q := m.For("s1")

	var futures []*Future
	for i := 0; i < 5; i++ {
		i := i
		futures = append(futures, q.Enqueue(func(ctx context.Context) (any, error) {
			return i, nil
		}, time.Second))
	}

	for i, f := range futures {
		v, err := f.Wait()
		if err != nil {
			t.Fatalf("item %d: %v", i, err)
		}
		if v.(int) != i {
			t.Errorf("item %d resolved with value %v, want %d (FIFO violated)", i, v, i)
		}
	}
}

func TestTimeoutContinuesService(t *testing.T) {
	m := NewManager()
	q := m.For("s1")

	slow := q.Enqueue(func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 10*time.Millisecond)

	fast := q.Enqueue(func(ctx context.Context) (any, error) {
		return "ok", nil
	}, time.Second)

	_, err := slow.Wait()
	kind, ok := core.KindOf(err)
	if !ok || kind != core.KindQueueTimeout {
		t.Fatalf("expected queue.timeout, got %v", err)
	}

	v, err := fast.Wait()
	if err != nil {
		t.Fatalf("fast item: %v", err)
	}
	if v.(string) != "ok" {
		t.Errorf("got %v", v)
	}
}

func TestClearCancelsPendingItems(t *testing.T) {
	m := NewManager()
	q := m.For("s1")

	blocker := make(chan struct{})
	first := q.Enqueue(func(ctx context.Context) (any, error) {
		<-blocker
		return nil, nil
	}, time.Second)

	pending := q.Enqueue(func(ctx context.Context) (any, error) {
		return "should not run", nil
	}, time.Second)

	m.Remove("s1")
	close(blocker)

	if _, err := first.Wait(); err != nil {
		t.Logf("first item settled with: %v (acceptable either way after Clear)", err)
	}

	_, err := pending.Wait()
	kind, ok := core.KindOf(err)
	if !ok || kind != core.KindQueueCancelled {
		t.Fatalf("expected queue.cancelled for the pending item, got %v", err)
	}
}

type recordingHooks struct {
	dequeues int
	timeouts int
}

func (h *recordingHooks) OnDequeue(time.Duration) { h.dequeues++ }
func (h *recordingHooks) OnTimeout()              { h.timeouts++ }

func TestHooksReportDequeueAndTimeout(t *testing.T) {
	m := NewManager()
	hooks := &recordingHooks{}
	m.SetHooks(hooks)
	q := m.For("s1")

	slow := q.Enqueue(func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 10*time.Millisecond)
	slow.Wait()

	fast := q.Enqueue(func(ctx context.Context) (any, error) {
		return "ok", nil
	}, time.Second)
	fast.Wait()

	if hooks.dequeues != 2 {
		t.Errorf("hooks.dequeues = %d, want 2", hooks.dequeues)
	}
	if hooks.timeouts != 1 {
		t.Errorf("hooks.timeouts = %d, want 1", hooks.timeouts)
	}
}

func TestTotalDepthSumsAcrossSessions(t *testing.T) {
	m := NewManager()
	qa := m.For("a")
	qb := m.For("b")

	block := make(chan struct{})
	qa.Enqueue(func(ctx context.Context) (any, error) { <-block; return nil, nil }, time.Second)
	qa.Enqueue(func(ctx context.Context) (any, error) { return nil, nil }, time.Second)
	qb.Enqueue(func(ctx context.Context) (any, error) { return nil, nil }, time.Second)

	if depth := m.TotalDepth(); depth < 1 {
		t.Errorf("TotalDepth() = %d, want at least 1 pending item", depth)
	}
	if count := m.Count(); count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}
	close(block)
}

func TestLazyPerSessionCreation(t *testing.T) {
	m := NewManager()
	q1 := m.For("a")
	q2 := m.For("a")
	q3 := m.For("b")
	if q1 != q2 {
		t.Errorf("expected the same queue instance for repeated calls on the same session")
	}
	if q1 == q3 {
		t.Errorf("expected distinct queues for distinct sessions")
	}
}
