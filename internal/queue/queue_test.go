package queue

import (
	"sync"
	"testing"
)

// TestScenario2BoundedOverflow is spec.md §8 scenario 2: enqueuing one
// more than the bound evicts exactly the oldest entry, once.
func TestScenario2BoundedOverflow(t *testing.T) {
	q := New("ws-1", 1000, nil)

	var mu sync.Mutex
	var overflows []OverflowEvent
	q.OnOverflow(func(ev OverflowEvent) {
		mu.Lock()
		overflows = append(overflows, ev)
		mu.Unlock()
	})

	for i := 0; i < 1001; i++ {
		q.Enqueue("k", []byte{byte(i)}, int64(i))
	}

	if got := q.Size(); got != 1000 {
		t.Errorf("Size() = %d, want 1000", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(overflows) != 1 {
		t.Fatalf("overflow events = %d, want 1", len(overflows))
	}
	if overflows[0].Bound != 1000 {
		t.Errorf("Bound = %d, want 1000", overflows[0].Bound)
	}
	if overflows[0].Evicted.Timestamp != 0 {
		t.Errorf("evicted timestamp = %d, want 0 (the oldest entry)", overflows[0].Evicted.Timestamp)
	}

	peek := q.Peek()
	if peek[0].Timestamp != 1 {
		t.Errorf("oldest remaining entry timestamp = %d, want 1", peek[0].Timestamp)
	}
}

func TestEnqueueBelowBoundNoOverflow(t *testing.T) {
	q := New("ws-1", 10, nil)

	overflowed := false
	q.OnOverflow(func(ev OverflowEvent) { overflowed = true })

	for i := 0; i < 5; i++ {
		q.Enqueue("k", []byte{byte(i)}, int64(i))
	}

	if overflowed {
		t.Error("unexpected overflow before reaching bound")
	}
	if q.Size() != 5 {
		t.Errorf("Size() = %d, want 5", q.Size())
	}
}

func TestDrainReturnsInOrderAndEmpties(t *testing.T) {
	q := New("ws-1", 10, nil)
	q.Enqueue("a", []byte{1}, 1)
	q.Enqueue("b", []byte{2}, 2)

	drained := q.Drain()
	if len(drained) != 2 || drained[0].Key != "a" || drained[1].Key != "b" {
		t.Errorf("Drain() = %+v, want [a b] in order", drained)
	}
	if q.Size() != 0 {
		t.Errorf("Size() after Drain() = %d, want 0", q.Size())
	}
}

func TestOnChangeReceivesNewSize(t *testing.T) {
	q := New("ws-1", 10, nil)

	var sizes []int
	q.OnChange(func(size int) { sizes = append(sizes, size) })

	q.Enqueue("a", []byte{1}, 1)
	q.Enqueue("b", []byte{2}, 2)

	if len(sizes) != 2 || sizes[0] != 1 || sizes[1] != 2 {
		t.Errorf("sizes = %v, want [1 2]", sizes)
	}
}

func TestUnsubscribeChangeListener(t *testing.T) {
	q := New("ws-1", 10, nil)

	calls := 0
	unsub := q.OnChange(func(size int) { calls++ })
	q.Enqueue("a", []byte{1}, 1)
	unsub()
	q.Enqueue("b", []byte{2}, 2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSubscriberPanicDoesNotStopOtherListeners(t *testing.T) {
	q := New("ws-1", 10, nil)

	called := false
	q.OnChange(func(size int) { panic("boom") })
	q.OnChange(func(size int) { called = true })

	q.Enqueue("a", []byte{1}, 1)

	if !called {
		t.Error("second listener was not invoked after first panicked")
	}
}

type fakePersister struct {
	mu      sync.Mutex
	saved   map[string][]Entry
	loadErr error
}

func newFakePersister() *fakePersister {
	return &fakePersister{saved: make(map[string][]Entry)}
}

func (f *fakePersister) Load(workspaceID string) ([]Entry, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[workspaceID], nil
}

func (f *fakePersister) Save(workspaceID string, entries []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	f.saved[workspaceID] = cp
	return nil
}

func (f *fakePersister) Delete(workspaceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, workspaceID)
	return nil
}

func TestNewRestoresFromPersister(t *testing.T) {
	p := newFakePersister()
	p.saved["ws-1"] = []Entry{{Key: "a", Timestamp: 1}}

	q := New("ws-1", 10, p)
	if q.Size() != 1 {
		t.Errorf("Size() after restore = %d, want 1", q.Size())
	}
}

func TestRequeuePrependsInOrder(t *testing.T) {
	q := New("ws-1", 10, nil)
	q.Enqueue("a", []byte{1}, 1)

	q.Requeue([]Entry{{Key: "failed", Timestamp: 0}})

	peek := q.Peek()
	if len(peek) != 2 || peek[0].Key != "failed" || peek[1].Key != "a" {
		t.Errorf("Peek() = %+v, want [failed a]", peek)
	}
}

func TestDefaultBoundAppliedWhenZero(t *testing.T) {
	q := New("ws-1", 0, nil)
	if q.bound != DefaultBound {
		t.Errorf("bound = %d, want %d", q.bound, DefaultBound)
	}
}
